package notification

import (
	"testing"

	"github.com/nikicat/unitbar/internal/monitor"
	"github.com/nikicat/unitbar/internal/status"
)

type fakeNotifier struct {
	nextID   uint32
	notified []string
	closed   []uint32
}

func (f *fakeNotifier) Notify(summary, body string) (uint32, error) {
	f.nextID++
	f.notified = append(f.notified, summary)
	return f.nextID, nil
}

func (f *fakeNotifier) Close(id uint32) error {
	f.closed = append(f.closed, id)
	return nil
}

func event(service string, active bool) status.Event {
	return status.Event{Status: monitor.Status{Service: service, Active: active}}
}

func TestHandlerNotifiesOnDown(t *testing.T) {
	n := &fakeNotifier{}
	h := NewHandler(n, []string{"cups"})

	h.OnStatus(event("cups", false))

	if len(n.notified) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(n.notified))
	}
	if n.notified[0] != "cups is down" {
		t.Errorf("summary = %q", n.notified[0])
	}
}

func TestHandlerClosesOnRecovery(t *testing.T) {
	n := &fakeNotifier{}
	h := NewHandler(n, []string{"cups"})

	h.OnStatus(event("cups", false))
	h.OnStatus(event("cups", true))

	if len(n.closed) != 1 || n.closed[0] != 1 {
		t.Errorf("closed = %v, want [1]", n.closed)
	}
}

func TestHandlerDoesNotDuplicateNotifications(t *testing.T) {
	n := &fakeNotifier{}
	h := NewHandler(n, []string{"cups"})

	h.OnStatus(event("cups", false))
	h.OnStatus(event("cups", false))

	if len(n.notified) != 1 {
		t.Errorf("sent %d notifications, want 1", len(n.notified))
	}
}

func TestHandlerIgnoresUnwatchedServices(t *testing.T) {
	n := &fakeNotifier{}
	h := NewHandler(n, []string{"cups"})

	h.OnStatus(event("sshd", false))

	if len(n.notified) != 0 {
		t.Errorf("sent %d notifications for unwatched service", len(n.notified))
	}
}

func TestHandlerRecoveryWithoutOpenNotification(t *testing.T) {
	n := &fakeNotifier{}
	h := NewHandler(n, []string{"cups"})

	h.OnStatus(event("cups", true))

	if len(n.closed) != 0 {
		t.Errorf("closed %d notifications, want 0", len(n.closed))
	}
}
