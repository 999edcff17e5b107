package transport

import "testing"

func TestParseChatTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		raw    string
		ok     bool
		recip  string
		thread int
	}{
		{name: "numeric", raw: "-1001234567890", ok: true, recip: "-1001234567890"},
		{name: "username", raw: " @news ", ok: true, recip: "@news"},
		{name: "thread", raw: "42", ok: true, recip: "42", thread: 7},
		{name: "empty", raw: "", ok: false},
		{name: "bare at", raw: "@", ok: false},
		{name: "garbage", raw: "news", ok: false},
		{name: "zero", raw: "0", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseChatTarget(tt.raw, tt.thread)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if got.Recipient() != tt.recip {
				t.Fatalf("Recipient() = %q, want %q", got.Recipient(), tt.recip)
			}
			if got.ThreadID != tt.thread {
				t.Fatalf("ThreadID = %d, want %d", got.ThreadID, tt.thread)
			}
		})
	}
}
