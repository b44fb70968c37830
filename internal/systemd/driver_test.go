package systemd_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikicat/unitbar/internal/systemd"
	"github.com/nikicat/unitbar/internal/testutil"
	"github.com/nikicat/unitbar/internal/unitpath"
)

func startDriver(t *testing.T, addr, service string) *systemd.Driver {
	t.Helper()

	d, err := systemd.New(systemd.Config{Service: service, BusAddress: addr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestDriverQueriesActiveState(t *testing.T) {
	addr := testutil.StartBus(t)
	mock := testutil.StartMockSystemd(t, addr)

	if err := mock.SetUnit("cups", "active"); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	d := startDriver(t, addr, "cups")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	active, err := d.IsActive(ctx)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if !active {
		t.Error("IsActive = false, want true")
	}
}

func TestDriverTransitionalStatesAreInactive(t *testing.T) {
	addr := testutil.StartBus(t)
	mock := testutil.StartMockSystemd(t, addr)

	d := startDriver(t, addr, "cups")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, state := range []string{"inactive", "activating", "deactivating", "reloading", "failed"} {
		if err := mock.SetUnit("cups", state); err != nil {
			t.Fatalf("set %s: %v", state, err)
		}
		active, err := d.IsActive(ctx)
		if err != nil {
			t.Fatalf("IsActive(%s): %v", state, err)
		}
		if active {
			t.Errorf("state %q reported active, want inactive", state)
		}
	}
}

// TestDriverSeesTransitionBeforeFirstQuery verifies the subscription is in
// place when New returns: a state change that happens before the first
// IsActive call both shows up in the query result and wakes the next
// WaitForChange.
func TestDriverSeesTransitionBeforeFirstQuery(t *testing.T) {
	addr := testutil.StartBus(t)
	mock := testutil.StartMockSystemd(t, addr)

	if err := mock.SetUnit("cups", "active"); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	d := startDriver(t, addr, "cups")

	// Transition after construction but before any query.
	if err := mock.SetUnit("cups", "inactive"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.WaitForChange(ctx); err != nil {
		t.Fatalf("WaitForChange: %v", err)
	}

	active, err := d.IsActive(ctx)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Error("IsActive = true after transition to inactive")
	}
}

func TestDriverWaitWakesOnChange(t *testing.T) {
	addr := testutil.StartBus(t)
	mock := testutil.StartMockSystemd(t, addr)

	if err := mock.SetUnit("cups", "active"); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	d := startDriver(t, addr, "cups")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := d.IsActive(ctx); err != nil {
		t.Fatalf("IsActive: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.WaitForChange(ctx) }()

	// Give the waiter a moment to block, then trigger a transition.
	time.Sleep(100 * time.Millisecond)
	if err := mock.SetUnit("cups", "failed"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatalf("WaitForChange: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForChange did not wake on transition")
	}

	active, err := d.IsActive(ctx)
	if err != nil {
		t.Fatalf("IsActive: %v", err)
	}
	if active {
		t.Error("IsActive = true, want false after failure")
	}
}

func TestDriverCloseUnblocksWait(t *testing.T) {
	addr := testutil.StartBus(t)
	mock := testutil.StartMockSystemd(t, addr)

	if err := mock.SetUnit("cups", "active"); err != nil {
		t.Fatalf("seed unit: %v", err)
	}

	d := startDriver(t, addr, "cups")

	waitErr := make(chan error, 1)
	go func() { waitErr <- d.WaitForChange(context.Background()) }()

	time.Sleep(100 * time.Millisecond)
	d.Close()

	select {
	case err := <-waitErr:
		if !errors.Is(err, systemd.ErrSubscriptionClosed) {
			t.Errorf("WaitForChange returned %v, want ErrSubscriptionClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("WaitForChange did not return after Close")
	}
}

func TestDriverRejectsNonASCIIBeforeConnecting(t *testing.T) {
	// A bogus bus address proves no connection is attempted: a connect
	// would fail with a dial error, not a validation error.
	_, err := systemd.New(systemd.Config{
		Service:    "café",
		BusAddress: "unix:path=/nonexistent/bus.sock",
	})
	if !errors.Is(err, unitpath.ErrNotASCII) {
		t.Errorf("New returned %v, want ErrNotASCII", err)
	}
}

func TestDriverConnectFailure(t *testing.T) {
	_, err := systemd.New(systemd.Config{
		Service:    "cups",
		BusAddress: "unix:path=/nonexistent/bus.sock",
	})
	if err == nil {
		t.Fatal("New succeeded against a nonexistent bus")
	}
}
