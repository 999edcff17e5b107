package systemd

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "tweetrelay/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func TestNotifierStates(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.notify = rec.notify

	n.Ready()
	n.Status("checked=2 sent=1")
	n.Stopping()

	got := rec.snapshot()
	want := []string{"READY=1", "STATUS=checked=2 sent=1", "STOPPING=1"}
	if len(got) != len(want) {
		t.Fatalf("states=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states[%d]=%q want %q", i, got[i], want[i])
		}
	}
}

func TestWatchdogPingsUntilCancelled(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.notify = rec.notify

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	if err := n.Watchdog(ctx, 40*time.Millisecond, nil); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
	states := rec.snapshot()
	if len(states) < 2 {
		t.Fatalf("expected several pings, got %v", states)
	}
	for _, s := range states {
		if s != "WATCHDOG=1" {
			t.Fatalf("unexpected state %q", s)
		}
	}
}

func TestWatchdogDisabled(t *testing.T) {
	t.Parallel()
	n := NewNotifier(logx.Nop())
	n.notify = func(bool, string) (bool, error) {
		t.Fatalf("no ping expected")
		return false, nil
	}
	if err := n.Watchdog(context.Background(), 0, nil); err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}

func TestWatchdogWithheldWhileUnhealthy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := NewNotifier(logx.Nop())
	n.notify = rec.notify

	var healthy atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watchdog(ctx, 20*time.Millisecond, healthy.Load) }()

	time.Sleep(80 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("pinged while unhealthy: %v", got)
	}

	healthy.Store(true)
	deadline := time.Now().Add(time.Second)
	for len(rec.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no ping after recovery")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watchdog: %v", err)
	}
}
