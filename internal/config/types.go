package config

// Config is the on-disk (JSON or YAML) configuration. Every field can also be
// supplied through the environment; see env.go.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") or a
// bare number of seconds ("60").
type Config struct {
	X        XConfig        `json:"x"`
	Telegram TelegramConfig `json:"telegram"`

	// Accounts lists the X usernames to relay, in polling order.
	Accounts []string `json:"accounts"`

	State    StateConfig    `json:"state"`
	Poll     PollConfig     `json:"poll"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
}

// XConfig configures the X (Twitter) API v2 read client.
type XConfig struct {
	BearerToken string `json:"bearer_token"`
	BaseURL     string `json:"base_url,omitempty"` // default: https://api.twitter.com
	Timeout     string `json:"timeout,omitempty"`  // per request, default 15s

	// RequestsPerWindow paces requests client-side over a 15 minute window.
	// 0 disables pacing.
	RequestsPerWindow int `json:"requests_per_window,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channel is the relay destination: numeric chat id or "@channelname".
	Channel  string `json:"channel"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StateConfig controls where last-seen post ids are persisted.
//
// Example:
//
//	"state": { "driver": "file", "path": "./last_tweets.json" }
type StateConfig struct {
	Driver      string `json:"driver"` // "file" (default) | "sqlite"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type PollConfig struct {
	// Interval accepts a Go duration ("5m"), HH:MM ("00:05") or a cron
	// expression ("*/5 * * * *").
	Interval         string `json:"interval"`
	RecoveryInterval string `json:"recovery_interval"`
}

// NotifierConfig controls delivery to the relay channel.
type NotifierConfig struct {
	RatePerSec     int    `json:"rate_per_sec"`
	RetryMax       int    `json:"retry_max"`
	RetryBase      string `json:"retry_base"`
	RetryMaxDelay  string `json:"retry_max_delay"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	OmitPermalink  bool   `json:"omit_permalink,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings and errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Chat       string `json:"chat"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
	// RepeatWindow mutes repeats of the same alert for the same account.
	RepeatWindow string `json:"repeat_window"`
}

// Default returns the configuration used for fields that neither the file
// nor the environment set.
func Default() *Config {
	return &Config{
		X: XConfig{
			BaseURL: "https://api.twitter.com",
			Timeout: "15s",
		},
		Telegram: TelegramConfig{Timeout: "15s"},
		State: StateConfig{
			Driver: "file",
			Path:   "last_tweets.json",
		},
		Poll: PollConfig{
			Interval:         "5m",
			RecoveryInterval: "1m",
		},
		Notifier: NotifierConfig{
			RatePerSec:    1,
			RetryMax:      2,
			RetryBase:     "1s",
			RetryMaxDelay: "10s",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:     "warn",
				RatePerSec:   1,
				RepeatWindow: "10m",
			},
		},
	}
}
