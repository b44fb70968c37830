// Package testutil provides test utilities including a mock systemd and a
// private dbus-daemon harness.
package testutil

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/nikicat/unitbar/internal/unitpath"
)

const (
	busName       = "org.freedesktop.systemd1"
	unitInterface = "org.freedesktop.systemd1.Unit"
	unitSubtree   = dbus.ObjectPath("/org/freedesktop/systemd1/unit")
)

// MockSystemd is a minimal systemd1 stand-in for bus-level tests: it owns
// the well-known name, serves ActiveState via org.freedesktop.DBus.Properties
// for unit object paths, and emits PropertiesChanged when a unit's state is
// updated.
type MockSystemd struct {
	conn *dbus.Conn

	mu    sync.RWMutex
	units map[dbus.ObjectPath]string // unit path → ActiveState
}

// NewMockSystemd creates an empty mock.
func NewMockSystemd() *MockSystemd {
	return &MockSystemd{units: make(map[dbus.ObjectPath]string)}
}

// Register exports the Properties interface under the unit subtree and
// claims org.freedesktop.systemd1 on the given connection.
func (m *MockSystemd) Register(conn *dbus.Conn) error {
	m.conn = conn

	if err := conn.ExportSubtree(m, unitSubtree, "org.freedesktop.DBus.Properties"); err != nil {
		return fmt.Errorf("export Properties subtree: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagReplaceExisting)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("not primary owner of %s (reply=%d)", busName, reply)
	}

	return nil
}

// SetUnit sets a service's ActiveState and emits PropertiesChanged on the
// unit's object path when the state actually changed.
func (m *MockSystemd) SetUnit(service, state string) error {
	path, err := unitpath.ObjectPath(service)
	if err != nil {
		return err
	}
	op := dbus.ObjectPath(path)

	m.mu.Lock()
	prev, existed := m.units[op]
	m.units[op] = state
	m.mu.Unlock()

	if existed && prev == state {
		return nil
	}

	changed := map[string]dbus.Variant{"ActiveState": dbus.MakeVariant(state)}
	return m.conn.Emit(op, "org.freedesktop.DBus.Properties.PropertiesChanged",
		unitInterface, changed, []string{})
}

// Get implements org.freedesktop.DBus.Properties.Get for unit paths.
func (m *MockSystemd) Get(msg dbus.Message, iface, property string) (dbus.Variant, *dbus.Error) {
	path := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)

	if iface != unitInterface || property != "ActiveState" {
		return dbus.Variant{}, &dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownProperty",
			Body: []any{iface + "." + property},
		}
	}

	m.mu.RLock()
	state, ok := m.units[path]
	m.mu.RUnlock()
	if !ok {
		return dbus.Variant{}, &dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownObject",
			Body: []any{string(path)},
		}
	}

	return dbus.MakeVariant(state), nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll for unit paths.
func (m *MockSystemd) GetAll(msg dbus.Message, iface string) (map[string]dbus.Variant, *dbus.Error) {
	path := msg.Headers[dbus.FieldPath].Value().(dbus.ObjectPath)

	if iface != unitInterface {
		return nil, &dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownInterface",
			Body: []any{iface},
		}
	}

	m.mu.RLock()
	state, ok := m.units[path]
	m.mu.RUnlock()
	if !ok {
		return nil, &dbus.Error{
			Name: "org.freedesktop.DBus.Error.UnknownObject",
			Body: []any{string(path)},
		}
	}

	return map[string]dbus.Variant{"ActiveState": dbus.MakeVariant(state)}, nil
}
