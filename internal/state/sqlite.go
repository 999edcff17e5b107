package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	logx "tweetrelay/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS last_seen (
	account_id TEXT PRIMARY KEY,
	post_id    TEXT NULL,
	updated_at TEXT NOT NULL
);`

// sqliteNotADB is SQLITE_NOTADB.
const sqliteNotADB = 26

type sqliteStore struct {
	cfg Config
	log logx.Logger

	mu       sync.Mutex
	db       *sql.DB
	migrated bool
	// absent is set for a read-only store whose database does not exist.
	absent bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	cfg.Path = path
	st := &sqliteStore{cfg: cfg, log: log}
	if cfg.ReadOnly {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			st.absent = true
			return st, nil
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := st.open()
	if err != nil {
		return nil, err
	}
	st.db = db
	return st, nil
}

func (s *sqliteStore) open() (*sql.DB, error) {
	dsn := s.cfg.Path
	if s.cfg.ReadOnly {
		dsn = "file:" + s.cfg.Path + "?mode=ro"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas. They fail silently on an unreadable file; Load reports that.
	if s.cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", s.cfg.BusyTimeout.Milliseconds()))
	}
	if s.cfg.ReadOnly {
		_, _ = db.Exec("PRAGMA query_only = ON")
		return db, nil
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	return db, nil
}

func (s *sqliteStore) migrateLocked(ctx context.Context) error {
	if s.migrated {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return err
	}
	s.migrated = true
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) Load(ctx context.Context) (LastSeen, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.absent {
		return LastSeen{}, nil
	}
	if s.db == nil {
		return nil, errors.New("state store closed")
	}

	if !s.cfg.ReadOnly {
		if err := s.migrateLocked(ctx); err != nil {
			if isNotADatabase(err) {
				return nil, s.quarantineLocked(err)
			}
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT account_id, post_id FROM last_seen`)
	if err != nil {
		switch {
		case isNotADatabase(err) && s.cfg.ReadOnly:
			return nil, &CorruptStateError{Path: s.cfg.Path, Err: err}
		case isNotADatabase(err):
			return nil, s.quarantineLocked(err)
		case s.cfg.ReadOnly && strings.Contains(err.Error(), "no such table"):
			return LastSeen{}, nil
		}
		return nil, err
	}
	defer rows.Close()

	out := LastSeen{}
	for rows.Next() {
		var (
			id   string
			post sql.NullString
		)
		if err := rows.Scan(&id, &post); err != nil {
			return nil, &CorruptStateError{Path: s.cfg.Path, Err: err}
		}
		out[id] = post.String
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) Save(ctx context.Context, st LastSeen) error {
	if s.cfg.ReadOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errors.New("state store closed")
	}
	if err := s.migrateLocked(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM last_seen`); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO last_seen(account_id, post_id, updated_at) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, post := range st {
		if _, err := stmt.ExecContext(ctx, id, nullStr(post), now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Trace("state saved", logx.String("path", s.cfg.Path), logx.Int("entries", len(st)))
	return nil
}

// quarantineLocked moves an unreadable database aside and starts a fresh
// one at the configured path, so later saves succeed.
func (s *sqliteStore) quarantineLocked(cause error) error {
	ce := &CorruptStateError{Path: s.cfg.Path, Err: cause}

	_ = s.db.Close()
	s.db = nil
	s.migrated = false

	dst := fmt.Sprintf("%s.corrupt-%d", s.cfg.Path, time.Now().Unix())
	if err := os.Rename(s.cfg.Path, dst); err != nil {
		s.log.Warn("state quarantine failed", logx.String("path", s.cfg.Path), logx.Err(err))
	} else {
		ce.Quarantine = dst
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.cfg.Path + suffix)
	}

	db, err := s.open()
	if err != nil {
		return errors.Join(ce, err)
	}
	s.db = db
	return ce
}

func isNotADatabase(err error) bool {
	var coded interface{ Code() int }
	if errors.As(err, &coded) && coded.Code()&0xff == sqliteNotADB {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not a database")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
