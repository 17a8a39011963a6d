// Package store implements the L8 local durable store: a SQLite
// database opened in WAL mode that persists messages, conversations,
// and the roster (users/groups/friends) on-device, so the SDK has a
// readable history and survives a process restart mid-sync.
//
// Grounded on the migration-slice-plus-schema_migrations-table pattern
// and the WAL/busy_timeout PRAGMA sequence the examples use for an
// embedded SQLite store; modernc.org/sqlite is used for the same
// reason it is there: a pure-Go driver needs no cgo toolchain, which
// matters even more on a mobile cross-compile target.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"imcore/imerr"
)

var migrations = []string{
	// v1 — conversations
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		type            TEXT NOT NULL,
		peer_id         TEXT NOT NULL DEFAULT '',
		last_message_id TEXT NOT NULL DEFAULT '',
		last_active_at  INTEGER NOT NULL DEFAULT 0,
		unread_count    INTEGER NOT NULL DEFAULT 0,
		muted           INTEGER NOT NULL DEFAULT 0,
		updated_at      INTEGER NOT NULL DEFAULT 0
	)`,
	// v2 — messages
	`CREATE TABLE IF NOT EXISTS messages (
		message_id      TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		sender_id       TEXT NOT NULL,
		sequence        INTEGER NOT NULL,
		type            TEXT NOT NULL,
		body            BLOB NOT NULL,
		sent_at         INTEGER NOT NULL,
		status          TEXT NOT NULL DEFAULT 'sent',
		revoked         INTEGER NOT NULL DEFAULT 0,
		updated_at      INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (conversation_id) REFERENCES conversations(conversation_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sequence)`,
	// v3 — users
	`CREATE TABLE IF NOT EXISTS users (
		user_id    TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	// v4 — groups
	`CREATE TABLE IF NOT EXISTS groups (
		group_id   TEXT PRIMARY KEY,
		name       TEXT NOT NULL DEFAULT '',
		owner_id   TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	// v5 — group membership
	`CREATE TABLE IF NOT EXISTS group_members (
		group_id   TEXT NOT NULL,
		user_id    TEXT NOT NULL,
		role       TEXT NOT NULL DEFAULT 'member',
		updated_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, user_id),
		FOREIGN KEY (group_id) REFERENCES groups(group_id)
	)`,
	// v6 — friends
	`CREATE TABLE IF NOT EXISTS friends (
		user_id    TEXT NOT NULL,
		friend_id  TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'accepted',
		updated_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, friend_id)
	)`,
	// v7 — sync cursor per conversation and a global cursor
	`CREATE TABLE IF NOT EXISTS sync_config (
		scope      TEXT PRIMARY KEY,
		last_seq   INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`,
	// v8 — outbox snapshot, so pending sends survive a process restart
	`CREATE TABLE IF NOT EXISTS outbox_snapshot (
		message_id TEXT PRIMARY KEY,
		command    INTEGER NOT NULL,
		sequence   INTEGER NOT NULL,
		body       BLOB NOT NULL,
		attempts   INTEGER NOT NULL DEFAULT 0,
		enqueued_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_enqueued ON outbox_snapshot(enqueued_at)`,
}

// UpsertOutcome classifies what an upsert did to a row, returned so
// callers (resync) can log inserted/updated/skipped counts per batch.
type UpsertOutcome int

const (
	OutcomeInserted UpsertOutcome = iota
	OutcomeUpdated
	OutcomeSkipped
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeUpdated:
		return "updated"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Store wraps the SQLite connection. Writes are serialized behind a
// coarse mutex — one writer at a time matches WAL's single-writer
// model and keeps multi-statement batches atomic without relying on
// SQLite-level lock retries — while reads use the pool's normal
// concurrent connections.
type Store struct {
	db *sql.DB
	wm sync.Mutex
}

// Open opens (or creates) the SQLite database at path, enables WAL
// mode, synchronous=NORMAL and foreign_keys=ON, and applies any
// pending migrations. Use ":memory:" for ephemeral test databases.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, imerr.Store(fmt.Errorf("open db: %w", err))
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	pragmas := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA foreign_keys=ON`,
		`PRAGMA busy_timeout=5000`,
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, imerr.Store(fmt.Errorf("pragma %q: %w", p, err))
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, imerr.Store(fmt.Errorf("migrate: %w", err))
	}
	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Checkpoint runs a WAL checkpoint, folding the write-ahead log back
// into the main database file. Session.Close calls it once before
// closing the store; nothing calls it on a timer or after every
// write, since TRUNCATE blocks concurrent writers briefly.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return imerr.Store(err)
	}
	return nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}
