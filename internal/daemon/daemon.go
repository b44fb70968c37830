// Package daemon runs the monitors for all configured blocks until one of
// them fails, the configuration changes on disk, or the context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nikicat/unitbar/internal/config"
	"github.com/nikicat/unitbar/internal/monitor"
	"github.com/nikicat/unitbar/internal/status"
	"github.com/nikicat/unitbar/internal/systemd"
)

// ErrConfigChanged is returned by Run when the config file is modified on
// disk. The caller decides whether to reload and run again.
var ErrConfigChanged = errors.New("configuration file changed")

// Config holds daemon startup parameters.
type Config struct {
	// Blocks are the services to monitor.
	Blocks []config.Block

	// BusAddress is the D-Bus address to connect to.
	// Empty means the system bus (production). Non-empty connects to a custom
	// address — used by integration tests to point at a private dbus-daemon.
	BusAddress string

	// Registry receives every published status.
	Registry *status.Registry

	// ConfigPath, when non-empty, is watched for changes; a change makes
	// Run return ErrConfigChanged.
	ConfigPath string
}

// Run starts one monitor per block, sends READY=1 via sd-notify, and blocks
// until a monitor fails, the config file changes, or ctx is cancelled.
// Returns nil on clean shutdown.
func Run(ctx context.Context, cfg Config) error {
	if len(cfg.Blocks) == 0 {
		return errors.New("no blocks configured")
	}

	monitors := make([]*monitor.Monitor, 0, len(cfg.Blocks))
	drivers := make([]*systemd.Driver, 0, len(cfg.Blocks))
	closeDrivers := func() {
		for _, d := range drivers {
			d.Close() //nolint:errcheck
		}
	}

	for _, block := range cfg.Blocks {
		driver, err := systemd.New(systemd.Config{
			Service:    block.Service,
			BusAddress: cfg.BusAddress,
		})
		if err != nil {
			closeDrivers()
			return fmt.Errorf("driver for %s: %w", block.Service, err)
		}
		drivers = append(drivers, driver)

		monitors = append(monitors, monitor.New(
			block.Service,
			driver,
			monitor.Profile{State: block.ActiveState, Format: block.ActiveFormat},
			monitor.Profile{State: block.InactiveState, Format: block.InactiveFormat},
			cfg.Registry,
		))
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(monitors)+1)
	var wg sync.WaitGroup
	for _, m := range monitors {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
			}
		}()
	}

	if cfg.ConfigPath != "" {
		watcher, err := watchConfig(runCtx, cfg.ConfigPath, errCh, &wg)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer watcher.Close()
	}

	slog.Info("daemon ready", "blocks", len(cfg.Blocks))
	SdNotify("READY=1")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	slog.Info("daemon shutting down")
	cancel()
	wg.Wait()
	return runErr
}

// watchConfig watches the directory containing path and reports
// ErrConfigChanged when the config file itself is written, created, or
// renamed. Watching the directory survives editors that replace the file.
func watchConfig(ctx context.Context, path string, errCh chan<- error, wg *sync.WaitGroup) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	target := filepath.Clean(path)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				slog.Info("config file changed", "path", path, "op", event.Op)
				errCh <- ErrConfigChanged
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config watcher error", "error", err)
			}
		}
	}()
	return watcher, nil
}
