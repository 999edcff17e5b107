package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func stopWithin(t *testing.T, s *Supervisor, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Stop(ctx)
}

func TestGoReportsPanicOnStop(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("watchdog", func(ctx context.Context) error { panic("x") })
	s.Go("reload", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := stopWithin(t, s, 2*time.Second)
	if err == nil || !strings.Contains(err.Error(), "watchdog: panic: x") {
		t.Fatalf("Stop error = %v", err)
	}
	if s.Context().Err() == nil {
		t.Fatal("context should be cancelled after Stop")
	}
}

func TestGoJoinsTaskErrors(t *testing.T) {
	t.Parallel()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	s := New(context.Background())
	s.Go("a", func(context.Context) error { return errA })
	s.Go("b", func(context.Context) error { return errB })

	err := stopWithin(t, s, 2*time.Second)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("Stop error = %v, want both task errors", err)
	}
}

func TestStopIgnoresCancellation(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := stopWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopTimesOut(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := New(context.Background())
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})
	err := stopWithin(t, s, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop error = %v, want deadline exceeded", err)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	s.GoRestart("watch", func(ctx context.Context) error {
		n := runs.Add(1)
		if n == 2 {
			panic("watcher crashed")
		}
		if n < 3 {
			return errors.New("not yet")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, 5*time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not restarted")
	}
	if err := stopWithin(t, s, 2*time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs=%d want 3", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Hour, time.Hour))

	deadline := time.Now().Add(time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := stopWithin(t, s, time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := runs.Load(); got != 1 {
		t.Fatalf("runs=%d want 1", got)
	}
}

func TestBackoffDoublesWithinBounds(t *testing.T) {
	t.Parallel()
	b := &backoff{min: 100 * time.Millisecond, max: time.Second}
	for i, want := range []time.Duration{100, 200, 400, 800, 1000, 1000} {
		want *= time.Millisecond
		got := b.next()
		lo := time.Duration(float64(want) * 0.7)
		if got < lo || got > min(time.Duration(float64(want)*1.3), b.max) {
			t.Fatalf("step %d: delay %v outside jitter of %v", i, got, want)
		}
	}
	b.reset()
	if got := b.next(); got > 130*time.Millisecond {
		t.Fatalf("after reset delay %v", got)
	}
}
