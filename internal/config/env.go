package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/subosito/gotenv"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Environment variable names. The TWITTER_/TELEGRAM_ names are kept
// compatible with existing .env files of the relay.
const (
	EnvBearerToken      = "TWITTER_BEARER_TOKEN"
	EnvXBaseURL         = "TWITTER_API_URL"
	EnvAccounts         = "TWITTER_ACCOUNTS"
	EnvTelegramToken    = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChannel  = "TELEGRAM_CHANNEL_ID"
	EnvTelegramThread   = "TELEGRAM_THREAD_ID"
	EnvStatePath        = "LAST_TWEETS_FILE"
	EnvStateDriver      = "STATE_DRIVER"
	EnvPollInterval     = "POLL_INTERVAL"
	EnvRecoveryInterval = "RECOVERY_INTERVAL"
	EnvLogLevel         = "LOG_LEVEL"
)

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing default ".env" is not an
// error; a missing explicitly named file is.
func LoadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return gotenv.Load(path)
}

// applyEnv overlays environment values onto cfg. Empty values are ignored.
func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	str := func(k string, dst *string) {
		if v, ok := get(k); ok {
			*dst = v
		}
	}

	str(EnvBearerToken, &cfg.X.BearerToken)
	str(EnvXBaseURL, &cfg.X.BaseURL)
	str(EnvTelegramToken, &cfg.Telegram.Token)
	str(EnvTelegramChannel, &cfg.Telegram.Channel)
	str(EnvStatePath, &cfg.State.Path)
	str(EnvStateDriver, &cfg.State.Driver)
	str(EnvPollInterval, &cfg.Poll.Interval)
	str(EnvRecoveryInterval, &cfg.Poll.RecoveryInterval)
	str(EnvLogLevel, &cfg.Logging.Level)

	if v, ok := get(EnvAccounts); ok {
		cfg.Accounts = strings.Split(v, ",")
	}
	if v, ok := get(EnvTelegramThread); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvTelegramThread, v)
		}
		cfg.Telegram.ThreadID = n
	}
	return nil
}

// NormalizeAccounts trims whitespace and a leading "@", drops empties and
// case-insensitive duplicates, and keeps the first-seen order.
func NormalizeAccounts(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		u := strings.TrimPrefix(strings.TrimSpace(raw), "@")
		if u == "" {
			continue
		}
		k := strings.ToLower(u)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, u)
	}
	return out
}
