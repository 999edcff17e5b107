package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tweetrelay/internal/transport"
)

const (
	defaultRepeatWindow = 10 * time.Minute
	alertQueueSize      = 64
	alertMaxLen         = 3500
	alertFieldMaxLen    = 600
	// Tracked failures above this count trigger a sweep of expired ones.
	alertSeenSweep = 512
)

// Fields shown on the tag line, in this order.
var alertTags = []string{"username", "account_id", "op"}

// Fields never shown in an alert.
var alertSkip = map[string]bool{
	zerolog.TimestampFieldName: true,
	zerolog.LevelFieldName:     true,
	zerolog.MessageFieldName:   true,
	zerolog.CallerFieldName:    true,
	"comp":                     true,
}

type alert struct {
	to   transport.ChatTarget
	text string
}

type repeat struct {
	last       time.Time
	suppressed int
}

// alertSink is a zerolog writer that turns warnings into operator messages.
// A failure is identified by level, component, message, account and op;
// while it repeats within the window only the first line is sent, and the
// number of muted repeats is added to the next alert for it.
type alertSink struct {
	mu      sync.Mutex
	to      transport.ChatTarget
	min     zerolog.Level
	window  time.Duration
	limiter *rate.Limiter
	seen    map[string]*repeat
	now     func() time.Time

	queue chan alert
}

func newAlertSink() *alertSink {
	return &alertSink{
		min:    zerolog.WarnLevel,
		window: defaultRepeatWindow,
		seen:   make(map[string]*repeat),
		now:    time.Now,
		queue:  make(chan alert, alertQueueSize),
	}
}

func (a *alertSink) configure(minLevel zerolog.Level, perSec int, window time.Duration) {
	if window <= 0 {
		window = defaultRepeatWindow
	}
	perSec = max(1, perSec)
	a.mu.Lock()
	a.min = minLevel
	a.window = window
	a.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	a.mu.Unlock()
}

func (a *alertSink) setTarget(to transport.ChatTarget) {
	a.mu.Lock()
	a.to = to
	a.mu.Unlock()
}

func (a *alertSink) target() transport.ChatTarget {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.to
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel never blocks and never fails; alerts that do not fit the queue
// are dropped.
func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.to.IsZero() || level < a.min || level == zerolog.NoLevel {
		return len(p), nil
	}

	fields := decodeLine(p)
	key := alertKey(level, fields)
	now := a.now()
	r := a.seen[key]
	if r == nil {
		a.sweep(now)
		r = &repeat{}
		a.seen[key] = r
	}
	if !r.last.IsZero() && now.Sub(r.last) < a.window {
		r.suppressed++
		return len(p), nil
	}
	if a.limiter != nil && !a.limiter.Allow() {
		r.suppressed++
		return len(p), nil
	}

	text := formatAlert(level, fields, p, r.suppressed)
	select {
	case a.queue <- alert{to: a.to, text: text}:
		r.last = now
		r.suppressed = 0
	default:
		r.suppressed++
	}
	return len(p), nil
}

// sweep forgets failures that have been quiet for a full window.
func (a *alertSink) sweep(now time.Time) {
	if len(a.seen) < alertSeenSweep {
		return
	}
	for k, r := range a.seen {
		if now.Sub(r.last) >= a.window {
			delete(a.seen, k)
		}
	}
}

// deliver sends queued alerts until ctx is done.
func (a *alertSink) deliver(ctx context.Context, sender transport.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-a.queue:
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, _ = sender.SendText(sctx, it.to, it.text, &transport.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func decodeLine(p []byte) map[string]any {
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

func alertKey(level zerolog.Level, f map[string]any) string {
	parts := []string{level.String(), str(f, "comp"), str(f, zerolog.MessageFieldName)}
	for _, k := range alertTags {
		parts = append(parts, str(f, k))
	}
	return strings.Join(parts, "|")
}

// formatAlert renders one alert:
//
//	[WARN] relay: fetch failed
//	@alice · account 111 · x.user_tweets
//	err: x.user_tweets: transient (http 503)
//	took=1.2
//	(3 similar alerts muted)
func formatAlert(level zerolog.Level, f map[string]any, raw []byte, muted int) string {
	if f == nil {
		return truncate(strings.TrimSpace(string(raw)), alertMaxLen)
	}
	var b strings.Builder
	b.WriteString("[" + strings.ToUpper(level.String()) + "] ")
	if comp := str(f, "comp"); comp != "" {
		b.WriteString(comp + ": ")
	}
	b.WriteString(str(f, zerolog.MessageFieldName))

	var tags []string
	if u := str(f, "username"); u != "" {
		tags = append(tags, "@"+strings.TrimPrefix(u, "@"))
	}
	if id := str(f, "account_id"); id != "" {
		tags = append(tags, "account "+id)
	}
	if op := str(f, "op"); op != "" {
		tags = append(tags, op)
	}
	if len(tags) > 0 {
		b.WriteString("\n" + strings.Join(tags, " · "))
	}
	if e := str(f, zerolog.ErrorFieldName); e != "" {
		b.WriteString("\nerr: " + truncate(e, alertFieldMaxLen))
	}

	rest := make([]string, 0, len(f))
	for k := range f {
		if alertSkip[k] || k == zerolog.ErrorFieldName || slices.Contains(alertTags, k) {
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		b.WriteString("\n" + k + "=" + truncate(fmt.Sprint(f[k]), alertFieldMaxLen))
	}
	if muted > 0 {
		fmt.Fprintf(&b, "\n(%d similar alerts muted)", muted)
	}
	return truncate(b.String(), alertMaxLen)
}

func str(f map[string]any, k string) string {
	if f == nil {
		return ""
	}
	switch v := f[k].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
