// Package status keeps the latest rendered status per service and fans
// published statuses out to observers.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikicat/unitbar/internal/monitor"
)

// Event is one published status with feed metadata.
type Event struct {
	ID     string         `json:"id"`
	Time   time.Time      `json:"time"`
	Status monitor.Status `json:"status"`
}

// Observer receives every published event.
type Observer interface {
	OnStatus(Event)
}

// Registry implements monitor.Sink for all monitors of a daemon. Monitors
// publish into it concurrently; it remembers the latest event per service
// and notifies observers synchronously, in subscription order.
type Registry struct {
	mu     sync.RWMutex
	latest map[string]Event

	observersMu sync.RWMutex
	observers   []Observer

	// Injectable for tests.
	now   func() time.Time
	newID func() string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		latest: make(map[string]Event),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Publish implements monitor.Sink.
func (r *Registry) Publish(st monitor.Status) error {
	ev := Event{ID: r.newID(), Time: r.now(), Status: st}

	r.mu.Lock()
	r.latest[st.Service] = ev
	r.mu.Unlock()

	r.observersMu.RLock()
	defer r.observersMu.RUnlock()
	for _, obs := range r.observers {
		obs.OnStatus(ev)
	}
	return nil
}

// Snapshot returns the latest event per service, sorted by service name for
// stable output.
func (r *Registry) Snapshot() []Event {
	r.mu.RLock()
	events := make([]Event, 0, len(r.latest))
	for _, ev := range r.latest {
		events = append(events, ev)
	}
	r.mu.RUnlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].Status.Service < events[j].Status.Service
	})
	return events
}

// Reset drops all remembered statuses. Called when the block set is
// reloaded so stale services don't linger in snapshots.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = make(map[string]Event)
}

// Subscribe adds an observer.
func (r *Registry) Subscribe(obs Observer) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, obs)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(obs Observer) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	for i, o := range r.observers {
		if o == obs {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}
