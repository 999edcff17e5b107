package config

import (
	"reflect"
	"strings"

	logx "tweetrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) whether any changed section only takes effect after a restart.
//
// poll, notifier and logging apply live; x, telegram, accounts and state
// are bound at startup.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, bool) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)
	restart := false

	// X (never log bearer token)
	if strings.TrimSpace(oldCfg.X.BaseURL) != strings.TrimSpace(newCfg.X.BaseURL) ||
		strings.TrimSpace(oldCfg.X.Timeout) != strings.TrimSpace(newCfg.X.Timeout) ||
		oldCfg.X.RequestsPerWindow != newCfg.X.RequestsPerWindow ||
		oldCfg.X.BearerToken != newCfg.X.BearerToken {
		changed = append(changed, "x")
		attrs = append(attrs,
			logx.String("x.base_url", strings.TrimSpace(newCfg.X.BaseURL)),
			logx.Bool("x.token_changed", oldCfg.X.BearerToken != newCfg.X.BearerToken),
		)
		restart = true
	}

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.Channel) != strings.TrimSpace(newCfg.Telegram.Channel) ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		strings.TrimSpace(oldCfg.Telegram.APIURL) != strings.TrimSpace(newCfg.Telegram.APIURL) ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.channel", strings.TrimSpace(newCfg.Telegram.Channel)),
			logx.Int("telegram.thread_id", newCfg.Telegram.ThreadID),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
		restart = true
	}

	if !reflect.DeepEqual(NormalizeAccounts(oldCfg.Accounts), NormalizeAccounts(newCfg.Accounts)) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.count", len(NormalizeAccounts(newCfg.Accounts))))
		restart = true
	}

	if oldCfg.State != newCfg.State {
		changed = append(changed, "state")
		attrs = append(attrs,
			logx.String("state.driver", newCfg.State.Driver),
			logx.String("state.path", newCfg.State.Path),
		)
		restart = true
	}

	if oldCfg.Poll != newCfg.Poll {
		changed = append(changed, "poll")
		attrs = append(attrs,
			logx.String("poll.interval", newCfg.Poll.Interval),
			logx.String("poll.recovery_interval", newCfg.Poll.RecoveryInterval),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	return changed, attrs, restart
}
