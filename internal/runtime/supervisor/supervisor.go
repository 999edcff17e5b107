// Package supervisor runs the relay's background tasks (config watcher,
// systemd watchdog, config reload) next to the poll loop and stops them
// together on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	logx "tweetrelay/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

// Context is cancelled by Stop or when the parent is done.
func (s *Supervisor) Context() context.Context { return s.ctx }

// Go runs task in its own goroutine. A returned error or a panic is logged
// and reported by Stop; cancellation is a clean exit.
func (s *Supervisor) Go(name string, task func(ctx context.Context) error) {
	if task == nil {
		return
	}
	log := s.log.With(logx.String("task", name))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Debug("task started")
		if err := guard(s.ctx, task, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("task failed", logx.Err(err))
			s.record(fmt.Errorf("%s: %w", name, err))
			return
		}
		log.Debug("task stopped")
	}()
}

// GoRestart keeps task alive: after an error or a panic it is started again
// once a jittered, doubling delay has passed. A nil return or cancellation
// ends it for good. A run that outlived the maximum delay resets it.
func (s *Supervisor) GoRestart(name string, task func(ctx context.Context) error, opts ...RestartOption) {
	if task == nil {
		return
	}
	b := &backoff{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(b)
	}
	if b.max < b.min {
		b.max = b.min
	}
	log := s.log.With(logx.String("task", name))

	s.Go(name, func(ctx context.Context) error {
		for {
			started := time.Now()
			err := guard(ctx, task, log)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if time.Since(started) > b.max {
				b.reset()
			}
			wait := b.next()
			log.Warn("task restarting", logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	})
}

// Stop cancels all tasks and waits for them until ctx is done. It returns
// the joined task failures, or an error naming the timeout.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("tasks still running: %w", ctx.Err())
	case <-done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Join(s.errs...)
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

// guard runs task and turns a panic into an error.
func guard(ctx context.Context, task func(context.Context) error, log logx.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}

// RestartOption configures GoRestart.
type RestartOption func(*backoff)

// WithRestartBackoff bounds the delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(b *backoff) {
		if min > 0 {
			b.min = min
		}
		if max > 0 {
			b.max = max
		}
	}
}

type backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func (b *backoff) reset() { b.cur = 0 }

// next doubles the delay up to max and applies 0.7..1.3 jitter.
func (b *backoff) next() time.Duration {
	if b.cur == 0 {
		b.cur = b.min
	} else {
		b.cur = min(b.cur*2, b.max)
	}
	j := 0.7 + rand.Float64()*0.6
	return min(time.Duration(float64(b.cur)*j), b.max)
}
