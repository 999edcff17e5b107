package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweetrelay/internal/transport"
	logx "tweetrelay/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	t.Parallel()
	got := splitTelegramText("hello", 10, "")
	require.Equal(t, []string{"hello"}, got)
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 6)
	text := line + "\n" + line + "\n" + line
	got := splitTelegramText(text, 14, "")
	require.Len(t, got, 2)
	assert.Equal(t, line+"\n"+line, got[0])
	assert.Equal(t, line, got[1])
	for _, c := range got {
		assert.LessOrEqual(t, len([]rune(c)), 14)
	}
}

func TestSplitTelegramTextRunes(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("é", 25)
	got := splitTelegramText(text, 10, "")
	require.Len(t, got, 3)
	assert.Equal(t, text, strings.Join(got, ""))
}

type botAPI struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (b *botAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			http.NotFound(w, r)
			return
		}
		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("decode params: %v", err)
		}
		b.mu.Lock()
		b.calls = append(b.calls, params)
		n := len(b.calls)
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100,"type":"channel"},"text":"x"}}`, n)
	})
}

func TestAdapterSendTextSplitsAndTargetsChannel(t *testing.T) {
	api := &botAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	text := strings.Repeat("x", telegramTextLimit) + "\n" + "tail"
	ref, err := a.SendText(context.Background(), transport.ChatTarget{Username: "@news"}, text, &transport.SendOptions{DisablePreview: true})
	require.NoError(t, err)
	assert.Equal(t, 1, ref.MessageID)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.calls, 2)
	assert.Equal(t, "@news", fmt.Sprint(api.calls[0]["chat_id"]))
	assert.Equal(t, "tail", fmt.Sprint(api.calls[1]["text"]))
}

func TestAdapterSendTextHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(3 * time.Second):
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100,"type":"channel"}}}`))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Timeout: 5 * time.Second}, logx.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = a.SendText(ctx, transport.ChatTarget{Username: "@news"}, "slow", nil)
	took := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, took, time.Second, "SendText waited for the slow Bot API")
}

func TestAdapterRejectsEmptyTarget(t *testing.T) {
	a, err := New(Config{Token: "123:abc", APIURL: "http://127.0.0.1:1"}, logx.Nop())
	require.NoError(t, err)
	_, err = a.SendText(context.Background(), transport.ChatTarget{}, "hi", nil)
	require.Error(t, err)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{}, logx.Nop())
	require.Error(t, err)
}
