package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tweetrelay/pkg/logx"
)

// fileStore keeps the whole state in one JSON object:
//
//	{"<account id>": "<post id>" | null}
//
// Saves go to "<path>.tmp" first and are renamed over the target, so a crash
// mid-write never leaves a truncated file behind.
type fileStore struct {
	path     string
	readOnly bool
	log      logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if dir := filepath.Dir(path); dir != "" && !cfg.ReadOnly {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &fileStore{path: path, readOnly: cfg.ReadOnly, log: log}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (LastSeen, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return LastSeen{}, nil
	}
	if err != nil {
		return nil, err
	}

	var out LastSeen
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(&out); err != nil {
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			err = errors.New("trailing data")
		}
		return nil, &CorruptStateError{Path: s.path, Err: err}
	}
	return out, nil
}

func (s *fileStore) Save(ctx context.Context, st LastSeen) error {
	_ = ctx
	if s.readOnly {
		return ErrReadOnly
	}
	if st == nil {
		st = LastSeen{}
	}
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	s.log.Trace("state saved", logx.String("path", s.path), logx.Int("entries", len(st)))
	return nil
}
