// unitbar watches systemd services over D-Bus and emits status blocks for a status bar.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/nikicat/unitbar/internal/api"
	"github.com/nikicat/unitbar/internal/config"
	"github.com/nikicat/unitbar/internal/daemon"
	"github.com/nikicat/unitbar/internal/monitor"
	"github.com/nikicat/unitbar/internal/notification"
	"github.com/nikicat/unitbar/internal/output"
	"github.com/nikicat/unitbar/internal/service"
	"github.com/nikicat/unitbar/internal/status"
	"github.com/nikicat/unitbar/internal/systemd"
)

const (
	defaultListenAddr      = "127.0.0.1:8384"
	defaultShutdownTimeout = 5 * time.Second
	defaultQueryTimeout    = 5 * time.Second
)

var progName = filepath.Base(os.Args[0])

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRun(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "service":
		runService(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  run           Monitor configured services and emit status blocks
  query         Query a service's status once and exit
  service       Manage the systemd user service

Run '%s <command> -h' for command-specific help.
`, progName, progName)
}

func runRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/unitbar/config.yaml)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := fs.String("log-format", "text", "Log format: text (colored) or json")
	listenAddr := fs.String("listen", defaultListenAddr, "HTTP API listen address (empty disables the API)")
	outputFormat := fs.String("output", output.FormatJSON, "Output format: json or plain")
	notifications := fs.Bool("notifications", true, "Enable desktop notifications for blocks with notify: true")
	busAddress := fs.String("bus-address", "", "D-Bus address to connect to (default: system bus)")
	fs.Parse(args) //nolint:errcheck

	cfg, cfgPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	set := setFlags(fs)
	if !set["listen"] && cfg.Listen != "" {
		*listenAddr = cfg.Listen
	}
	if !set["log-level"] && cfg.LogLevel != "" {
		*logLevel = cfg.LogLevel
	}
	if !set["log-format"] && cfg.LogFormat != "" {
		*logFormat = cfg.LogFormat
	}
	if !set["output"] && cfg.Output != "" {
		*outputFormat = cfg.Output
	}
	if !set["notifications"] && cfg.Notifications != nil {
		*notifications = *cfg.Notifications
	}
	if !set["bus-address"] && cfg.BusAddress != "" {
		*busAddress = cfg.BusAddress
	}

	// Positional args are extra services monitored with default settings.
	for _, svc := range fs.Args() {
		cfg.Blocks = append(cfg.Blocks, config.Block{Service: svc})
	}
	if err := cfg.Normalize(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(*logLevel, *logFormat)

	shutdownTimeout := time.Duration(cfg.ShutdownTimeout)
	if shutdownTimeout == 0 {
		shutdownTimeout = defaultShutdownTimeout
	}

	registry := status.NewRegistry()
	registry.Subscribe(output.NewEmitter(os.Stdout, *outputFormat))

	// Set up desktop notifications
	var desktopNotifier *notification.DBusNotifier
	if *notifications {
		notifier, err := notification.NewDBusNotifier()
		if err != nil {
			slog.Warn("failed to create desktop notifier, notifications disabled", "error", err)
		} else {
			desktopNotifier = notifier
			defer desktopNotifier.Stop()
			slog.Debug("desktop notifications enabled")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if *listenAddr != "" {
		// The Unix socket gives local same-UID tools an address that works
		// without knowing the TCP port.
		var unixSocket string
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			unixSocket = filepath.Join(runtimeDir, "unitbar", "api.sock")
		}
		apiServer, err := api.NewServer(*listenAddr, unixSocket, registry)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating API server: %v\n", err)
			os.Exit(1)
		}
		apiServer.Start()
		slog.Info("API server started", "url", "http://"+apiServer.Addr())
		if apiServer.UnixSocketPath != "" {
			slog.Info("API unix socket ready", "socket", apiServer.UnixSocketPath)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			apiServer.Shutdown(shutdownCtx) //nolint:errcheck
		}()
	}

	// Run until shutdown, reloading on config file changes.
	for {
		var notifHandler *notification.Handler
		if desktopNotifier != nil {
			if watched := notifyServices(cfg.Blocks); len(watched) > 0 {
				notifHandler = notification.NewHandler(desktopNotifier, watched)
				registry.Subscribe(notifHandler)
			}
		}

		err := daemon.Run(ctx, daemon.Config{
			Blocks:     cfg.Blocks,
			BusAddress: *busAddress,
			Registry:   registry,
			ConfigPath: cfgPath,
		})

		if notifHandler != nil {
			registry.Unsubscribe(notifHandler)
		}

		if !errors.Is(err, daemon.ErrConfigChanged) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			return
		}

		slog.Info("reloading configuration", "path", cfgPath)
		cfg, _, err = loadConfig(*configPath)
		if err == nil {
			err = cfg.Normalize()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reloading config: %v\n", err)
			os.Exit(1)
		}
		registry.Reset()
	}
}

// notifyServices returns the services of blocks with notifications enabled.
func notifyServices(blocks []config.Block) []string {
	var services []string
	for _, b := range blocks {
		if b.Notify {
			services = append(services, b.Service)
		}
	}
	return services
}

// runQuery performs a single status query for one service and prints the result.
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file (default: $XDG_CONFIG_HOME/unitbar/config.yaml)")
	busAddress := fs.String("bus-address", "", "D-Bus address to connect to (default: system bus)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args) //nolint:errcheck

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s query [options] <service>\n", progName)
		os.Exit(1)
	}
	svc := fs.Arg(0)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	set := setFlags(fs)
	if !set["bus-address"] && cfg.BusAddress != "" {
		*busAddress = cfg.BusAddress
	}

	// Use the block settings from the config if the service is configured there.
	block := config.Block{Service: svc}
	for _, b := range cfg.Blocks {
		if b.Service == svc {
			block = b
			break
		}
	}
	if err := block.Normalize(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	driver, err := systemd.New(systemd.Config{Service: svc, BusAddress: *busAddress})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer driver.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), defaultQueryTimeout)
	defer cancel()

	active, err := driver.IsActive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	profile := monitor.Profile{State: block.InactiveState, Format: block.InactiveFormat}
	if active {
		profile = monitor.Profile{State: block.ActiveState, Format: block.ActiveFormat}
	}
	st := monitor.Status{
		Service:  svc,
		Active:   active,
		State:    profile.State,
		FullText: monitor.Expand(profile.Format, svc),
	}

	if *jsonOutput {
		json.NewEncoder(os.Stdout).Encode(st) //nolint:errcheck
	} else {
		fmt.Printf("%s\t%s\n", st.State, st.FullText)
	}
}

// runService handles the "service" subcommand group (install/uninstall/status).
func runService(args []string) {
	if len(args) == 0 {
		printServiceUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "install":
		runServiceInstall(args[1:])
	case "uninstall":
		if err := service.Uninstall(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	case "status":
		service.Status() //nolint:errcheck
	case "-h", "--help", "help":
		printServiceUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n\n", args[0])
		printServiceUsage()
		os.Exit(1)
	}
}

func runServiceInstall(args []string) {
	fs := flag.NewFlagSet("service install", flag.ExitOnError)
	start := fs.Bool("start", false, "Start the service immediately after installing")
	configPath := fs.String("config", "", "Config file path to embed in the unit file")
	fs.Parse(args) //nolint:errcheck

	if err := service.Install(service.Options{
		ConfigPath: *configPath,
		Start:      *start,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printServiceUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s service <command> [options]

Commands:
  install       Install and enable the systemd user service
  uninstall     Stop, disable, and remove the systemd user service
  status        Show the service status

Install options:
  --start       Start the service immediately after installing
  --config      Config file path to embed in the unit file's ExecStart
`, progName)
}

func setupLogging(levelStr, format string) {
	level := parseLogLevel(levelStr)

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		// When running under systemd, the journal adds its own timestamps.
		underSystemd := os.Getenv("INVOCATION_ID") != ""
		opts := &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    underSystemd,
		}
		if underSystemd {
			opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{}
				}
				return a
			}
		}
		handler = tint.NewHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadConfig loads a config file and reports the path that was used.
// An explicit path that doesn't exist is an error. A missing default path is
// silently ignored (returns empty config).
func loadConfig(explicitPath string) (*config.Config, string, error) {
	if explicitPath != "" {
		cfg, err := config.Load(explicitPath)
		if err != nil {
			return nil, "", fmt.Errorf("load config %s: %w", explicitPath, err)
		}
		// If the explicit path didn't exist, Load returns empty config.
		// We need to distinguish: check if the file actually exists.
		if _, statErr := os.Stat(explicitPath); statErr != nil {
			return nil, "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return cfg, explicitPath, nil
	}

	defaultPath := config.DefaultPath()
	if defaultPath == "" {
		return &config.Config{}, "", nil
	}
	cfg, err := config.Load(defaultPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", defaultPath, err)
	}
	// Only watch a default config that actually exists.
	if _, statErr := os.Stat(defaultPath); statErr != nil {
		return cfg, "", nil
	}
	return cfg, defaultPath, nil
}

// setFlags returns the set of flag names that were explicitly provided on the command line.
func setFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}
