package concurrency_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"botpanel/internal/infra/concurrency"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPeriodicStopHaltsInvocations(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	p := concurrency.NewPeriodic("test")
	if !p.Start(context.Background(), 5*time.Millisecond, func(context.Context) { calls.Add(1) }) {
		t.Fatal("Start() = false on fresh task")
	}
	if p.Start(context.Background(), 5*time.Millisecond, func(context.Context) {}) {
		t.Fatal("second Start() must be rejected while running")
	}

	waitFor(t, func() bool { return calls.Load() >= 2 })

	p.Stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("calls after Stop: %d -> %d", after, got)
	}
	if p.Running() {
		t.Fatal("Running() = true after Stop")
	}

	// Stop идемпотентен.
	p.Stop()
}

func TestPeriodicCancelFromInsideTick(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	p := concurrency.NewPeriodic("self-cancel")
	p.Start(context.Background(), 5*time.Millisecond, func(context.Context) {
		calls.Add(1)
		p.Cancel()
	})

	waitFor(t, func() bool { return calls.Load() == 1 && !p.Running() })
	p.Stop()

	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want exactly one tick before self-cancel", got)
	}
}

func TestPeriodicParentContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	p := concurrency.NewPeriodic("parent")
	p.Start(ctx, 5*time.Millisecond, func(context.Context) { calls.Add(1) })

	cancel()
	p.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != after {
		t.Fatalf("calls after parent cancel: %d -> %d", after, got)
	}
}

func TestPeriodicRejectsInvalidArgs(t *testing.T) {
	t.Parallel()

	p := concurrency.NewPeriodic("invalid")
	if p.Start(context.Background(), 0, func(context.Context) {}) {
		t.Fatal("zero interval accepted")
	}
	if p.Start(context.Background(), time.Second, nil) {
		t.Fatal("nil fn accepted")
	}
	if p.Running() {
		t.Fatal("Running() after rejected Start")
	}
}
