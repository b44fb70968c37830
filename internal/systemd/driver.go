// Package systemd observes unit activation state over the systemd D-Bus API.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/nikicat/unitbar/internal/unitpath"
)

const (
	busName        = "org.freedesktop.systemd1"
	unitInterface  = "org.freedesktop.systemd1.Unit"
	propsInterface = "org.freedesktop.DBus.Properties"
	propsChanged   = propsInterface + ".PropertiesChanged"
)

// ErrSubscriptionClosed is returned by WaitForChange when the signal stream
// ends — connection lost, bus shut down, or Close called.
var ErrSubscriptionClosed = errors.New("property subscription closed")

// Config holds driver construction parameters.
type Config struct {
	// Service is the name to watch, without the ".service" suffix.
	Service string

	// BusAddress overrides the bus to connect to.
	// Empty means the system bus (production). Non-empty connects to a
	// custom address — used by integration tests to point at a private
	// dbus-daemon.
	BusAddress string
}

// Driver watches a single systemd unit. It exclusively owns one bus
// connection and one PropertiesChanged subscription on the unit's object
// path. The subscription is opened before New returns, so a transition
// between construction and the first IsActive call is never missed.
type Driver struct {
	conn    *dbus.Conn
	path    dbus.ObjectPath
	service string
	signals chan *dbus.Signal
}

// New validates the service name, connects to the bus, and subscribes to
// property changes on the unit's object path.
func New(cfg Config) (*Driver, error) {
	// Name validation happens before any connection attempt.
	path, err := unitpath.ObjectPath(cfg.Service)
	if err != nil {
		return nil, err
	}

	var conn *dbus.Conn
	if cfg.BusAddress == "" {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.Connect(cfg.BusAddress)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to D-Bus: %w", err)
	}

	d := &Driver{
		conn:    conn,
		path:    dbus.ObjectPath(path),
		service: cfg.Service,
		signals: make(chan *dbus.Signal, 16),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(propsInterface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(d.path),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to PropertiesChanged: %w", err)
	}
	conn.Signal(d.signals)

	return d, nil
}

// IsActive reads the unit's ActiveState property. Only the exact value
// "active" counts as active; transitional states (activating, reloading,
// deactivating) and failed/inactive all report false.
func (d *Driver) IsActive(ctx context.Context) (bool, error) {
	obj := d.conn.Object(busName, d.path)
	call := obj.CallWithContext(ctx, propsInterface+".Get", 0, unitInterface, "ActiveState")
	if call.Err != nil {
		return false, fmt.Errorf("read ActiveState of %s: %w", d.service, call.Err)
	}

	var v dbus.Variant
	if err := call.Store(&v); err != nil {
		return false, fmt.Errorf("decode ActiveState of %s: %w", d.service, err)
	}
	state, ok := v.Value().(string)
	if !ok {
		return false, fmt.Errorf("ActiveState of %s has unexpected type %T", d.service, v.Value())
	}
	return state == "active", nil
}

// WaitForChange blocks until the unit emits its next PropertiesChanged
// signal. Signals for other paths or members that reach the channel are
// skipped. A closed signal channel means the connection is gone; that is
// fatal here — reconnection is the caller's business.
func (d *Driver) WaitForChange(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-d.signals:
			if !ok {
				return fmt.Errorf("unit %s: %w", d.service, ErrSubscriptionClosed)
			}
			if sig.Name != propsChanged || sig.Path != d.path {
				continue
			}
			slog.Debug("unit properties changed", "unit", unitpath.Decode(string(sig.Path)))
			return nil
		}
	}
}

// Close releases the bus connection. The library closes the signal channel
// on teardown, so a pending WaitForChange returns ErrSubscriptionClosed
// rather than hanging.
func (d *Driver) Close() error {
	return d.conn.Close()
}
