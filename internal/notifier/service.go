package notifier

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tweetrelay/internal/apierr"
	"tweetrelay/internal/transport"
	logx "tweetrelay/pkg/logx"
)

// Service sends messages to a single chat. Send is synchronous: a nil
// return means the chat accepted the message.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender transport.Sender
	target transport.ChatTarget
	log    logx.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, sender transport.Sender, target transport.ChatTarget, log logx.Logger) (*Service, error) {
	if sender == nil {
		return nil, errors.New("notifier: sender is required")
	}
	if target.IsZero() {
		return nil, errors.New("notifier: target chat is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		target: target,
		log:    log.With(logx.String("comp", "notifier")),
		sleep:  sleepCtx,
	}
	s.applyLocked(cfg)
	return s, nil
}

func (s *Service) Target() transport.ChatTarget { return s.target }

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	// Defaults
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 20 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text plus an optional media section to the configured chat.
func (s *Service) Send(ctx context.Context, text string, mediaURLs []string) error {
	body := ComposeBody(text, mediaURLs)
	if strings.TrimSpace(body) == "" {
		return errors.New("notifier: empty message")
	}

	// config snapshot for this send
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	opts := &transport.SendOptions{DisablePreview: cfg.DisablePreview}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if err := lim.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		ref, err := s.sender.SendText(callCtx, s.target, body, opts)
		cancel()
		if err == nil {
			s.log.Debug("message sent",
				logx.String("chat", s.target.String()),
				logx.Int("message_id", ref.MessageID),
				logx.Int("attempt", attempt),
			)
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts || ctx.Err() != nil {
			break
		}
		if err := s.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			break
		}
	}
	return apierr.Transient("telegram.send", 0, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	base := cfg.RetryBase
	if base <= 0 {
		base = time.Second
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	// Exponential backoff: base * 2^(attempt-1)
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxD {
			d = maxD
			break
		}
	}
	// Jitter 0.7..1.3
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	j := 0.7 + rng.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
