// Package monitor implements the query→render→wait cycle for one watched
// service.
package monitor

import (
	"context"
	"fmt"
	"os"
)

// Driver abstracts one init-system backend for a single service.
// Implementations own a private connection and an open change subscription;
// the Monitor calls IsActive and WaitForChange strictly in alternation, so
// at most one of them is ever outstanding.
type Driver interface {
	// IsActive reports whether the service is currently active.
	IsActive(ctx context.Context) (bool, error)

	// WaitForChange blocks until the next state-change notification
	// arrives. A terminated subscription is an error, never a retry
	// opportunity.
	WaitForChange(ctx context.Context) error

	// Close releases the connection and subscription. A pending
	// WaitForChange returns promptly with an error afterwards.
	Close() error
}

// Profile pairs a state classification with a format template.
// Templates may reference $service.
type Profile struct {
	State  string
	Format string
}

// Status is one rendered observation, produced once per loop iteration.
type Status struct {
	Service  string `json:"service"`
	Active   bool   `json:"active"`
	State    string `json:"state"`
	FullText string `json:"full_text"`
}

// Sink receives one rendered status per iteration.
type Sink interface {
	Publish(Status) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Status) error

// Publish implements Sink.
func (f SinkFunc) Publish(st Status) error { return f(st) }

// Monitor drives one service's query→render→wait cycle forever.
type Monitor struct {
	service  string
	driver   Driver
	active   Profile
	inactive Profile
	sink     Sink
}

// New creates a monitor for one service. The driver must already hold an
// open change subscription so that no transition occurring before the first
// query is missed.
func New(service string, driver Driver, active, inactive Profile, sink Sink) *Monitor {
	return &Monitor{
		service:  service,
		driver:   driver,
		active:   active,
		inactive: inactive,
		sink:     sink,
	}
}

// Run queries the driver, renders and publishes the matching profile, then
// blocks until the next change notification — forever. It returns only on
// error or context cancellation, closing the driver on the way out. Errors
// are fatal to the loop: no retry, no backoff, no state caching. The caller
// owns restart policy.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.driver.Close()

	for {
		active, err := m.driver.IsActive(ctx)
		if err != nil {
			return fmt.Errorf("query %s: %w", m.service, err)
		}

		profile := m.inactive
		if active {
			profile = m.active
		}

		st := Status{
			Service:  m.service,
			Active:   active,
			State:    profile.State,
			FullText: Expand(profile.Format, m.service),
		}
		if err := m.sink.Publish(st); err != nil {
			return fmt.Errorf("publish %s: %w", m.service, err)
		}

		if err := m.driver.WaitForChange(ctx); err != nil {
			return fmt.Errorf("wait %s: %w", m.service, err)
		}
	}
}

// Expand fills $service into a format template. Unknown variables expand to
// the empty string.
func Expand(format, service string) string {
	return os.Expand(format, func(key string) string {
		if key == "service" {
			return service
		}
		return ""
	})
}
