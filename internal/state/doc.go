// Package state persists the last relayed post id per tracked account.
//
// Two drivers are available:
//   - "file": a single JSON object written atomically (temp file + rename)
//   - "sqlite": a SQLite database file (pure Go, modernc.org/sqlite)
package state
