package relay

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"tweetrelay/internal/feed"
	"tweetrelay/internal/schedule"
	"tweetrelay/internal/state"
	logx "tweetrelay/pkg/logx"
)

// ErrNoAccounts is returned by Bootstrap when none of the configured
// usernames could be resolved.
var ErrNoAccounts = errors.New("no tracked accounts could be resolved")

// FeedClient is the part of feed.Client the loop uses.
type FeedClient interface {
	ResolveAccountID(ctx context.Context, username string) (string, error)
	LatestPost(ctx context.Context, accountID string) (*feed.Post, error)
}

// Notifier delivers one message; nil means delivered.
type Notifier interface {
	Send(ctx context.Context, text string, mediaURLs []string) error
}

const (
	DefaultPollInterval     = 5 * time.Minute
	DefaultRecoveryInterval = time.Minute

	saveTimeout = 15 * time.Second
)

type Config struct {
	// Usernames in polling order.
	Usernames []string
	Poll      schedule.Spec
	Recovery  time.Duration
	// Permalink appends the post link to each message.
	Permalink bool
}

type intervals struct {
	poll     schedule.Spec
	recovery time.Duration
}

// Poller runs passes over a Session. Only the goroutine calling Run (or
// RunPass) touches the session; intervals and the permalink flag may be
// changed concurrently.
type Poller struct {
	feed     FeedClient
	notifier Notifier
	store    state.Store
	log      logx.Logger

	usernames []string
	// rank is each username's configured position (lowercased key).
	rank      map[string]int
	intervals atomic.Pointer[intervals]
	permalink atomic.Bool

	// progress is the unix-nano time of the loop's last sign of life;
	// wakeAt is non-zero while it sleeps between passes.
	progress atomic.Int64
	wakeAt   atomic.Int64

	onPass func(PassReport, error)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, fc FeedClient, n Notifier, st state.Store, log logx.Logger) (*Poller, error) {
	if fc == nil || n == nil || st == nil {
		return nil, errors.New("relay: feed client, notifier and state store are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{
		feed:      fc,
		notifier:  n,
		store:     st,
		log:       log.With(logx.String("comp", "relay")),
		usernames: append([]string(nil), cfg.Usernames...),
		rank:      make(map[string]int, len(cfg.Usernames)),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for i, u := range cfg.Usernames {
		if _, dup := p.rank[strings.ToLower(u)]; !dup {
			p.rank[strings.ToLower(u)] = i
		}
	}
	p.SetIntervals(cfg.Poll, cfg.Recovery)
	p.permalink.Store(cfg.Permalink)
	return p, nil
}

// SetIntervals replaces the poll schedule and recovery interval. It takes
// effect at the next sleep.
func (p *Poller) SetIntervals(poll schedule.Spec, recovery time.Duration) {
	if (poll.Kind == schedule.KindInterval && poll.Every <= 0) || (poll.Kind == schedule.KindCron && poll.Cron == "") {
		poll = schedule.Every(DefaultPollInterval)
	}
	if recovery <= 0 {
		recovery = DefaultRecoveryInterval
	}
	p.intervals.Store(&intervals{poll: poll, recovery: recovery})
}

func (p *Poller) SetPermalink(on bool) { p.permalink.Store(on) }

// OnPass registers fn to be called after every pass with its report and
// the unexpected error, if any. Must be called before Run.
func (p *Poller) OnPass(fn func(PassReport, error)) { p.onPass = fn }

func (p *Poller) pollDelay() time.Duration {
	iv := p.intervals.Load()
	d := iv.poll.Delay(p.now())
	if d <= 0 {
		// Cron ticks can land exactly on now; never spin.
		d = time.Second
	}
	return d
}

func (p *Poller) recoveryDelay() time.Duration { return p.intervals.Load().recovery }

func (p *Poller) beat() { p.progress.Store(p.now().UnixNano()) }

// Stalled reports whether the loop has shown no progress for longer than
// grace. While sleeping between passes it is stalled only once it overslept
// its wake-up time by grace. A loop that has not started is not stalled.
func (p *Poller) Stalled(grace time.Duration) bool {
	now := p.now()
	if w := p.wakeAt.Load(); w != 0 {
		return now.Sub(time.Unix(0, w)) > grace
	}
	last := p.progress.Load()
	if last == 0 {
		return false
	}
	return now.Sub(time.Unix(0, last)) > grace
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
