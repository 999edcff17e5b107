package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tweetrelay/internal/schedule"
	"tweetrelay/internal/transport"
)

// ConfigurationError lists every missing or invalid startup setting.
// It is fatal: the process exits nonzero.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ParseDurationField parses a Go duration string ("90s", "1m30s") or a bare
// number of seconds ("90"), the same bare form poll.interval accepts.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("%s: duration must be >= 0", path)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks cfg and returns a *ConfigurationError describing all
// problems at once, or nil.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ConfigurationError{Problems: []string{"config is nil"}}
	}
	var probs []string
	add := func(format string, args ...any) { probs = append(probs, fmt.Sprintf(format, args...)) }
	check := func(err error) {
		if err != nil {
			probs = append(probs, err.Error())
		}
	}

	if strings.TrimSpace(cfg.X.BearerToken) == "" {
		add("x.bearer_token is required (%s)", EnvBearerToken)
	}
	if u, err := url.Parse(strings.TrimSpace(cfg.X.BaseURL)); err != nil || u.Scheme == "" || u.Host == "" {
		add("x.base_url must be an absolute URL")
	}
	_, err := ParseDurationField("x.timeout", cfg.X.Timeout)
	check(err)
	if cfg.X.RequestsPerWindow < 0 {
		add("x.requests_per_window must be >= 0")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required (%s)", EnvTelegramToken)
	}
	if strings.TrimSpace(cfg.Telegram.Channel) == "" {
		add("telegram.channel is required (%s)", EnvTelegramChannel)
	} else if _, ok := transport.ParseChatTarget(cfg.Telegram.Channel, cfg.Telegram.ThreadID); !ok {
		add("telegram.channel: invalid %q (use a numeric chat id or @channel)", cfg.Telegram.Channel)
	}
	_, err = ParseDurationField("telegram.timeout", cfg.Telegram.Timeout)
	check(err)

	if len(NormalizeAccounts(cfg.Accounts)) == 0 {
		add("accounts: at least one username is required (%s)", EnvAccounts)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.State.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		add("state.driver: unknown driver %q", cfg.State.Driver)
	}
	if strings.TrimSpace(cfg.State.Path) == "" {
		add("state.path is required (%s)", EnvStatePath)
	}
	_, err = ParseDurationField("state.busy_timeout", cfg.State.BusyTimeout)
	check(err)

	if _, err := schedule.Parse(cfg.Poll.Interval); err != nil {
		add("poll.interval: %v", err)
	}
	if d, err := ParseDurationField("poll.recovery_interval", cfg.Poll.RecoveryInterval); err != nil {
		check(err)
	} else if d == 0 {
		add("poll.recovery_interval must be > 0")
	}

	if cfg.Notifier.RatePerSec < 0 {
		add("notifier.rate_per_sec must be >= 0")
	}
	if cfg.Notifier.RetryMax < 0 {
		add("notifier.retry_max must be >= 0")
	}
	_, err = ParseDurationField("notifier.retry_base", cfg.Notifier.RetryBase)
	check(err)
	_, err = ParseDurationField("notifier.retry_max_delay", cfg.Notifier.RetryMaxDelay)
	check(err)

	_, err = ParseDurationField("logging.telegram.repeat_window", cfg.Logging.Telegram.RepeatWindow)
	check(err)

	if lt := cfg.Logging.Telegram; lt.Enabled {
		if _, ok := transport.ParseChatTarget(lt.Chat, lt.ThreadID); !ok {
			add("logging.telegram.chat: required when logging.telegram.enabled (numeric chat id or @name)")
		}
	}

	if len(probs) > 0 {
		return &ConfigurationError{Problems: probs}
	}
	return nil
}
