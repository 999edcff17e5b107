package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Config configures the state store.
type Config struct {
	Driver      string // "file" (default) | "sqlite"
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// ReadOnly opens the store for inspection: nothing is created, migrated,
	// quarantined or saved. Save returns ErrReadOnly.
	ReadOnly bool
}

// ErrReadOnly is returned by Save on a store opened with ReadOnly.
var ErrReadOnly = errors.New("state store is read-only")

// LastSeen maps account id to the id of the last post relayed for it.
// An empty value means the account is tracked but nothing was relayed yet;
// it is persisted as JSON null.
type LastSeen map[string]string

// Track adds accountID with no last post unless it is already present.
// It reports whether an entry was added.
func (s LastSeen) Track(accountID string) bool {
	if _, ok := s[accountID]; ok {
		return false
	}
	s[accountID] = ""
	return true
}

func (s LastSeen) MarshalJSON() ([]byte, error) {
	m := make(map[string]*string, len(s))
	for k, v := range s {
		if v == "" {
			m[k] = nil
			continue
		}
		v := v
		m[k] = &v
	}
	return json.Marshal(m)
}

func (s *LastSeen) UnmarshalJSON(b []byte) error {
	var m map[string]*string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		return errors.New("state: expected a JSON object")
	}
	out := make(LastSeen, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = ""
			continue
		}
		out[k] = *v
	}
	*s = out
	return nil
}

// CorruptStateError reports persisted state that exists but cannot be
// decoded. Callers may continue with empty state.
type CorruptStateError struct {
	Path string
	// Quarantine is where the unreadable data was moved, if anywhere.
	Quarantine string
	Err        error
}

func (e *CorruptStateError) Error() string {
	if e.Quarantine != "" {
		return fmt.Sprintf("corrupt state %s (moved to %s): %v", e.Path, e.Quarantine, e.Err)
	}
	return fmt.Sprintf("corrupt state %s: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error { return e.Err }
