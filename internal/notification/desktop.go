// Package notification provides desktop notifications for service outages.
package notification

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/nikicat/unitbar/internal/status"
)

const (
	notifyDest      = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// Notifier defines the interface for sending desktop notifications.
type Notifier interface {
	// Notify sends a notification and returns its ID.
	Notify(summary, body string) (uint32, error)
	// Close closes a notification by ID.
	Close(id uint32) error
}

// DBusNotifier sends notifications via D-Bus.
// It automatically reconnects if the session bus connection drops.
type DBusNotifier struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

// NewDBusNotifier creates a notifier using a private session bus connection.
func NewDBusNotifier() (*DBusNotifier, error) {
	n := &DBusNotifier{}
	if err := n.connect(); err != nil {
		return nil, err
	}
	return n, nil
}

// connect establishes a private session bus connection.
// Must be called with n.mu held (or during construction).
func (n *DBusNotifier) connect() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("connect to session bus: %w", err)
	}
	n.conn = conn
	return nil
}

// reconnect closes the dead connection and establishes a new one.
// Must be called with n.mu held.
func (n *DBusNotifier) reconnect() error {
	if n.conn != nil {
		n.conn.Close()
	}
	if err := n.connect(); err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	slog.Info("reconnected to D-Bus session bus")
	return nil
}

// Stop closes the D-Bus connection.
func (n *DBusNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		n.conn.Close()
	}
}

// Notify sends a desktop notification.
// If the D-Bus connection is dead, it reconnects and retries once.
func (n *DBusNotifier) Notify(summary, body string) (uint32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id, err := n.doNotify(summary, body)
	if err != nil && errors.Is(err, dbus.ErrClosed) {
		if reconnErr := n.reconnect(); reconnErr != nil {
			return 0, fmt.Errorf("notify call: %w (reconnect failed: %v)", err, reconnErr)
		}
		id, err = n.doNotify(summary, body)
	}
	return id, err
}

func (n *DBusNotifier) doNotify(summary, body string) (uint32, error) {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(
		notifyInterface+".Notify",
		0,
		"unitbar",        // app_name
		uint32(0),        // replaces_id (0 = new notification)
		"dialog-warning", // app_icon
		summary,          // summary
		body,             // body
		[]string{},       // actions
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(2)), // critical
		},
		int32(-1), // expire_timeout (-1 = server default)
	)
	if call.Err != nil {
		return 0, fmt.Errorf("notify call: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("store notify result: %w", err)
	}
	return id, nil
}

// Close closes a notification by ID.
// If the D-Bus connection is dead, it reconnects and retries once.
func (n *DBusNotifier) Close(id uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	err := n.doClose(id)
	if err != nil && errors.Is(err, dbus.ErrClosed) {
		if reconnErr := n.reconnect(); reconnErr != nil {
			return fmt.Errorf("close notification: %w (reconnect failed: %v)", err, reconnErr)
		}
		err = n.doClose(id)
	}
	return err
}

func (n *DBusNotifier) doClose(id uint32) error {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyInterface+".CloseNotification", 0, id)
	if call.Err != nil {
		return fmt.Errorf("close notification: %w", call.Err)
	}
	return nil
}

// Handler watches status events and raises a notification while a watched
// service is inactive. The notification is closed once the service recovers.
type Handler struct {
	notifier Notifier
	watched  map[string]bool

	mu            sync.Mutex
	notifications map[string]uint32 // service -> notification ID
}

// NewHandler creates a notification handler for the given services.
func NewHandler(notifier Notifier, services []string) *Handler {
	watched := make(map[string]bool, len(services))
	for _, s := range services {
		watched[s] = true
	}
	return &Handler{
		notifier:      notifier,
		watched:       watched,
		notifications: make(map[string]uint32),
	}
}

// OnStatus implements status.Observer.
func (h *Handler) OnStatus(ev status.Event) {
	if !h.watched[ev.Status.Service] {
		return
	}
	if ev.Status.Active {
		h.handleRecovered(ev.Status.Service)
	} else {
		h.handleDown(ev.Status.Service)
	}
}

func (h *Handler) handleDown(service string) {
	h.mu.Lock()
	_, open := h.notifications[service]
	h.mu.Unlock()
	if open {
		return
	}

	summary := fmt.Sprintf("%s is down", service)
	id, err := h.notifier.Notify(summary, "The service is no longer active.")
	if err != nil {
		slog.Error("failed to send notification", "service", service, "error", err)
		return
	}

	h.mu.Lock()
	h.notifications[service] = id
	h.mu.Unlock()

	slog.Debug("sent desktop notification", "service", service, "notification_id", id)
}

func (h *Handler) handleRecovered(service string) {
	h.mu.Lock()
	id, ok := h.notifications[service]
	if ok {
		delete(h.notifications, service)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	if err := h.notifier.Close(id); err != nil {
		slog.Debug("failed to close notification", "service", service, "error", err)
		return
	}

	slog.Debug("closed desktop notification", "service", service, "notification_id", id)
}
