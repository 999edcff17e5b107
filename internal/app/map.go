package app

import (
	"fmt"
	"strings"
	"time"

	"tweetrelay/internal/config"
	"tweetrelay/internal/feed"
	"tweetrelay/internal/notifier"
	"tweetrelay/internal/relay"
	"tweetrelay/internal/schedule"
	"tweetrelay/internal/state"
	"tweetrelay/internal/transport"
	"tweetrelay/internal/transport/telegram"
	logx "tweetrelay/pkg/logx"
)

// mapLogConfig expects a validated config; an unparsable repeat window falls
// back to the sink default.
func mapLogConfig(cfg *config.Config) logx.Config {
	window, _ := config.ParseDurationField("logging.telegram.repeat_window", cfg.Logging.Telegram.RepeatWindow)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:      cfg.Logging.Telegram.Enabled,
			MinLevel:     cfg.Logging.Telegram.MinLevel,
			RatePerSec:   cfg.Logging.Telegram.RatePerSec,
			RepeatWindow: window,
		},
	}
}

// mapLogTarget returns the operator chat for the Telegram log sink. A zero
// target disables delivery.
func mapLogTarget(cfg *config.Config) transport.ChatTarget {
	to, _ := transport.ParseChatTarget(cfg.Logging.Telegram.Chat, cfg.Logging.Telegram.ThreadID)
	return to
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 15*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}, nil
}

func mapRelayTarget(cfg *config.Config) (transport.ChatTarget, error) {
	to, ok := transport.ParseChatTarget(cfg.Telegram.Channel, cfg.Telegram.ThreadID)
	if !ok {
		return transport.ChatTarget{}, fmt.Errorf("telegram.channel: invalid %q", cfg.Telegram.Channel)
	}
	return to, nil
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("x.timeout", cfg.X.Timeout, 15*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		BaseURL:           cfg.X.BaseURL,
		BearerToken:       cfg.X.BearerToken,
		Timeout:           timeout,
		RequestsPerWindow: cfg.X.RequestsPerWindow,
	}, nil
}

func mapStateConfig(cfg *config.Config) (state.Config, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.State.Driver))
	path := strings.TrimSpace(cfg.State.Path)
	if path == "" {
		return state.Config{}, fmt.Errorf("state.path is required")
	}
	switch driver {
	case "", "file":
		return state.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("state.busy_timeout", cfg.State.BusyTimeout, time.Second)
		if err != nil {
			return state.Config{}, err
		}
		return state.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return state.Config{}, fmt.Errorf("unknown state.driver: %s", cfg.State.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc.RatePerSec < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	if nc.RetryMax < 0 {
		return notifier.Config{}, fmt.Errorf("notifier.retry_max must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		RatePerSec:     nc.RatePerSec,
		RetryMax:       nc.RetryMax,
		RetryBase:      base,
		RetryMaxDelay:  maxDelay,
		DisablePreview: nc.DisablePreview,
	}, nil
}

// mapIntervals returns the poll schedule and the recovery interval.
func mapIntervals(cfg *config.Config) (schedule.Spec, time.Duration, error) {
	poll, err := schedule.Parse(cfg.Poll.Interval)
	if err != nil {
		return schedule.Spec{}, 0, fmt.Errorf("poll.interval: %w", err)
	}
	recovery, err := config.ParseDurationOrDefault("poll.recovery_interval", cfg.Poll.RecoveryInterval, relay.DefaultRecoveryInterval)
	if err != nil {
		return schedule.Spec{}, 0, err
	}
	return poll, recovery, nil
}

func mapRelayConfig(cfg *config.Config) (relay.Config, error) {
	poll, recovery, err := mapIntervals(cfg)
	if err != nil {
		return relay.Config{}, err
	}
	return relay.Config{
		Usernames: config.NormalizeAccounts(cfg.Accounts),
		Poll:      poll,
		Recovery:  recovery,
		Permalink: !cfg.Notifier.OmitPermalink,
	}, nil
}
