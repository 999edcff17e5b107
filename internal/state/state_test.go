package state

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "tweetrelay/pkg/logx"
)

func drivers() []string { return []string{"file", "sqlite"} }

func openTemp(t *testing.T, driver, name string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", name)
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func TestLoadMissingIsEmpty(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			st, _ := openTemp(t, d, "state.db")
			got, err := st.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.NotNil(t, got)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	want := LastSeen{"111": "9001", "222": "", "333": "42"}
	for _, d := range drivers() {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			st, _ := openTemp(t, d, "state.db")
			ctx := context.Background()

			require.NoError(t, st.Save(ctx, want))
			got, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			// Saving what was loaded changes nothing.
			require.NoError(t, st.Save(ctx, got))
			again, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, again)

			// Save replaces; dropped ids disappear.
			require.NoError(t, st.Save(ctx, LastSeen{"111": "9002"}))
			got, err = st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, LastSeen{"111": "9002"}, got)
		})
	}
}

func TestFileFormatUsesNull(t *testing.T) {
	t.Parallel()
	st, path := openTemp(t, "file", "last_tweets.json")
	require.NoError(t, st.Save(context.Background(), LastSeen{"1": "", "2": "55"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Nil(t, raw["1"])
	assert.Equal(t, "55", raw["2"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp file left behind")
}

func TestFileCorrupt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"garbage", "{not json"},
		{"empty", ""},
		{"null", "null"},
		{"array", `["1","2"]`},
		{"number value", `{"1": 5}`},
		{"trailing", `{"1":"2"} {}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			st, path := openTemp(t, "file", "last_tweets.json")
			require.NoError(t, os.WriteFile(path, []byte(tc.body), 0o600))

			_, err := st.Load(context.Background())
			var ce *CorruptStateError
			if !errors.As(err, &ce) {
				t.Fatalf("want *CorruptStateError, got %T (%v)", err, err)
			}
			assert.Equal(t, path, ce.Path)

			// The next save overwrites the bad file.
			require.NoError(t, st.Save(context.Background(), LastSeen{"1": "2"}))
			got, err := st.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, LastSeen{"1": "2"}, got)
		})
	}
}

func TestSQLiteCorruptIsQuarantined(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not a sqlite database file, just text padding padding padding padding padding padding padding padding"), 0o600))

	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Load(context.Background())
	var ce *CorruptStateError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Quarantine)
	_, statErr := os.Stat(ce.Quarantine)
	assert.NoError(t, statErr)

	require.NoError(t, st.Save(context.Background(), LastSeen{"7": "8"}))
	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LastSeen{"7": "8"}, got)
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop())
	require.Error(t, err)
	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestLastSeenTrack(t *testing.T) {
	t.Parallel()
	s := LastSeen{"1": "10"}
	assert.False(t, s.Track("1"))
	assert.True(t, s.Track("2"))
	assert.Equal(t, LastSeen{"1": "10", "2": ""}, s)
}

func TestReadOnlyLeavesCorruptDatabaseInPlace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "state.db")
	junk := []byte("this is definitely not a sqlite database file, just text padding padding padding padding padding padding padding padding")
	require.NoError(t, os.WriteFile(path, junk, 0o600))

	st, err := Open(Config{Driver: "sqlite", Path: path, ReadOnly: true}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	_, err = st.Load(context.Background())
	var ce *CorruptStateError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, ce.Quarantine)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, junk, got)
	matches, _ := filepath.Glob(path + ".corrupt-*")
	assert.Empty(t, matches)
	assert.ErrorIs(t, st.Save(context.Background(), LastSeen{"1": "2"}), ErrReadOnly)
}

func TestReadOnlyMissingCreatesNothing(t *testing.T) {
	t.Parallel()
	for _, d := range drivers() {
		d := d
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			dir := filepath.Join(t.TempDir(), "absent")
			path := filepath.Join(dir, "state.db")
			st, err := Open(Config{Driver: d, Path: path, ReadOnly: true}, logx.Nop())
			require.NoError(t, err)
			defer st.Close()

			got, err := st.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, got)
			assert.ErrorIs(t, st.Save(context.Background(), LastSeen{"1": "2"}), ErrReadOnly)

			_, statErr := os.Stat(dir)
			assert.True(t, errors.Is(statErr, os.ErrNotExist), "directory was created: %v", statErr)
		})
	}
}

func TestReadOnlyReadsExistingDatabase(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.db")
	rw, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, rw.Save(context.Background(), LastSeen{"1": "2", "3": ""}))
	require.NoError(t, rw.Close())

	ro, err := Open(Config{Driver: "sqlite", Path: path, ReadOnly: true}, logx.Nop())
	require.NoError(t, err)
	defer ro.Close()
	got, err := ro.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LastSeen{"1": "2", "3": ""}, got)
}
