package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		EnvBearerToken:     "bearer",
		EnvTelegramToken:   "123:abc",
		EnvTelegramChannel: "-1001234567890",
		EnvAccounts:        "alice, @bob ,,Alice",
	}
}

func TestLoadFromEnvironmentOnly(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(requiredEnv()))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Accounts)
	assert.Equal(t, "last_tweets.json", cfg.State.Path)
	assert.Equal(t, "file", cfg.State.Driver)
	assert.Equal(t, "5m", cfg.Poll.Interval)
	assert.Equal(t, "1m", cfg.Poll.RecoveryInterval)
	assert.Same(t, cfg, m.Get())
}

func TestBareSecondsIntervals(t *testing.T) {
	env := requiredEnv()
	env[EnvPollInterval] = "300"
	env[EnvRecoveryInterval] = "60"
	m := NewManager("")
	m.SetLookup(envMap(env))

	cfg, err := m.Load()
	require.NoError(t, err)
	recovery, err := ParseDurationField("poll.recovery_interval", cfg.Poll.RecoveryInterval)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, recovery)

	_, err = ParseDurationField("poll.recovery_interval", "-5")
	assert.Error(t, err)
	d, err := ParseDurationField("x.timeout", "0")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestLoadMissingRequiredListsEveryProblem(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(nil))

	_, err := m.Load()
	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce), "want *ConfigurationError, got %T", err)
	joined := ce.Error()
	for _, want := range []string{EnvBearerToken, EnvTelegramToken, EnvTelegramChannel, EnvAccounts} {
		assert.Contains(t, joined, want)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	doc := `
x:
  bearer_token: from-file
telegram:
  token: "1:file"
  channel: "@relay"
accounts: [carol]
poll:
  interval: "10m"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	env := map[string]string{
		EnvBearerToken:      "from-env",
		EnvTelegramThread:   "7",
		EnvStatePath:        filepath.Join(dir, "seen.json"),
		EnvRecoveryInterval: "30s",
	}
	m := NewManager(path)
	m.SetLookup(envMap(env))

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.X.BearerToken)
	assert.Equal(t, "@relay", cfg.Telegram.Channel)
	assert.Equal(t, 7, cfg.Telegram.ThreadID)
	assert.Equal(t, []string{"carol"}, cfg.Accounts)
	assert.Equal(t, "10m", cfg.Poll.Interval)
	assert.Equal(t, "30s", cfg.Poll.RecoveryInterval)
	assert.Equal(t, filepath.Join(dir, "seen.json"), cfg.State.Path)
}

func TestDecodeStrictRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		doc  string
	}{
		{"json", "c.json", `{"accounts":["a"],"bogus":1}`},
		{"yaml", "c.yml", "accounts: [a]\nbogus: 1\n"},
		{"trailing", "c.json", `{"accounts":["a"]} {}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			if err := decodeStrict(tc.path, []byte(tc.doc), cfg); err == nil {
				t.Fatalf("expected error for %s", tc.doc)
			}
		})
	}
}

func TestEmptyYAMLKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, decodeStrict("empty.yaml", []byte("\n"), cfg))
	assert.Equal(t, Default(), cfg)
}

func TestInvalidThreadID(t *testing.T) {
	env := requiredEnv()
	env[EnvTelegramThread] = "seven"
	m := NewManager("")
	m.SetLookup(envMap(env))

	_, err := m.Load()
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), EnvTelegramThread)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		c := Default()
		c.X.BearerToken = "b"
		c.Telegram.Token = "t"
		c.Telegram.Channel = "@chan"
		c.Accounts = []string{"alice"}
		return c
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"cron interval", func(c *Config) { c.Poll.Interval = "*/5 * * * *" }, ""},
		{"hhmm interval", func(c *Config) { c.Poll.Interval = "00:05" }, ""},
		{"bad interval", func(c *Config) { c.Poll.Interval = "soon" }, "poll.interval"},
		{"zero recovery", func(c *Config) { c.Poll.RecoveryInterval = "0s" }, "poll.recovery_interval"},
		{"bad driver", func(c *Config) { c.State.Driver = "redis" }, "state.driver"},
		{"relative base url", func(c *Config) { c.X.BaseURL = "/api" }, "x.base_url"},
		{"bad channel", func(c *Config) { c.Telegram.Channel = "not a chat" }, "telegram.channel"},
		{"negative retries", func(c *Config) { c.Notifier.RetryMax = -1 }, "notifier.retry_max"},
		{"log sink without chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram.chat"},
		{"only blank accounts", func(c *Config) { c.Accounts = []string{" ", "@"} }, "accounts"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tc.mutate(c)
			err := Validate(c)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tc.wantErr)
			}
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNormalizeAccounts(t *testing.T) {
	t.Parallel()
	got := NormalizeAccounts([]string{" @Alice", "bob", "ALICE", "", "@", "carol "})
	assert.Equal(t, []string{"Alice", "bob", "carol"}, got)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := Default()
	old.Accounts = []string{"alice"}
	old.Telegram.Token = "secret"

	live := *old
	live.Poll.Interval = "10m"
	live.Logging.Level = "debug"
	changed, attrs, restart := SummarizeConfigChange(old, &live)
	assert.Equal(t, []string{"poll", "logging"}, changed)
	assert.NotEmpty(t, attrs)
	assert.False(t, restart)

	bound := *old
	bound.Accounts = []string{"alice", "bob"}
	bound.Telegram.Token = "other"
	changed, _, restart = SummarizeConfigChange(old, &bound)
	assert.Equal(t, []string{"telegram", "accounts"}, changed)
	assert.True(t, restart)

	changed, _, restart = SummarizeConfigChange(old, old)
	assert.Empty(t, changed)
	assert.False(t, restart)
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.env")
	t.Setenv("TWEETRELAY_TEST_PRESET", "env")
	require.NoError(t, os.WriteFile(path, []byte("TWEETRELAY_TEST_ONLY=from-file\nTWEETRELAY_TEST_PRESET=file\n"), 0o600))
	require.NoError(t, LoadEnvFile(path))
	t.Cleanup(func() { _ = os.Unsetenv("TWEETRELAY_TEST_ONLY") })

	assert.Equal(t, "from-file", os.Getenv("TWEETRELAY_TEST_ONLY"))
	assert.Equal(t, "env", os.Getenv("TWEETRELAY_TEST_PRESET"))

	require.Error(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	write := func(interval string) {
		doc := `{"x":{"bearer_token":"b"},"telegram":{"token":"t","channel":"@c"},"accounts":["a"],"poll":{"interval":"` + interval + `","recovery_interval":"1m"}}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}
	write("5m")

	m := NewManager(path)
	m.SetLookup(envMap(nil))
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	write("7m")

	select {
	case cfg := <-ch:
		assert.Equal(t, "7m", cfg.Poll.Interval)
		assert.Equal(t, "7m", m.Get().Poll.Interval)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published after file change")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
