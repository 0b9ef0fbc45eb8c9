// Package store manages the SQLite database holding the durable mapping
// state between the booking system and remote calendar bridges.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] and call its methods. Every mutating statement is a
// single atomic upsert or guarded update so that concurrently running sync
// batches (including separate process instances) stay correct without any
// in-process locking.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SyncStatus is the lifecycle state of a mapping row.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusSynced   SyncStatus = "synced"
	StatusError    SyncStatus = "error"
	StatusConflict SyncStatus = "conflict"
	StatusImported SyncStatus = "imported"
)

// SyncDirection records which way a mapping row propagates.
type SyncDirection string

const (
	DirectionToRemote   SyncDirection = "booking_to_remote"
	DirectionFromRemote SyncDirection = "remote_to_booking"
	DirectionBoth       SyncDirection = "bidirectional"
)

const schema = `
CREATE TABLE IF NOT EXISTS bridge_mappings (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    source_bridge      TEXT    NOT NULL,
    target_bridge      TEXT    NOT NULL,
    source_calendar_id TEXT    NOT NULL,
    target_calendar_id TEXT    NOT NULL,
    source_event_id    TEXT    NOT NULL DEFAULT '',
    target_event_id    TEXT    NOT NULL DEFAULT '',
    event_data         TEXT    NOT NULL DEFAULT '',
    sync_status        TEXT    NOT NULL DEFAULT 'pending',
    sync_direction     TEXT    NOT NULL DEFAULT 'booking_to_remote',
    created_at         TEXT    NOT NULL DEFAULT '',
    last_synced_at     TEXT    NOT NULL DEFAULT '',
    updated_at         TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bridge_source_event
    ON bridge_mappings (source_bridge, target_bridge, source_calendar_id, target_calendar_id, source_event_id)
    WHERE source_event_id != '';
CREATE INDEX IF NOT EXISTS idx_bridge_scope
    ON bridge_mappings (source_bridge, target_bridge, source_calendar_id, target_calendar_id);

CREATE TABLE IF NOT EXISTS outlook_calendar_mapping (
    id                   INTEGER PRIMARY KEY AUTOINCREMENT,
    reservation_type     TEXT    NOT NULL DEFAULT '',
    reservation_id       INTEGER NOT NULL DEFAULT 0,
    resource_id          INTEGER NOT NULL,
    outlook_event_id     TEXT    NOT NULL DEFAULT '',
    outlook_calendar_id  TEXT    NOT NULL DEFAULT '',
    event_data           TEXT    NOT NULL DEFAULT '',
    sync_status          TEXT    NOT NULL DEFAULT 'pending',
    sync_direction       TEXT    NOT NULL DEFAULT 'booking_to_remote',
    priority_level       INTEGER NOT NULL DEFAULT 3,
    error_message        TEXT    NOT NULL DEFAULT '',
    created_at           TEXT    NOT NULL DEFAULT '',
    last_synced_at       TEXT    NOT NULL DEFAULT '',
    last_modified_remote TEXT    NOT NULL DEFAULT '',
    updated_at           TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_reservation_key
    ON outlook_calendar_mapping (reservation_type, reservation_id, resource_id)
    WHERE reservation_type != '';
CREATE UNIQUE INDEX IF NOT EXISTS idx_outlook_event
    ON outlook_calendar_mapping (outlook_event_id)
    WHERE outlook_event_id != '';
CREATE INDEX IF NOT EXISTS idx_mapping_status
    ON outlook_calendar_mapping (sync_status, priority_level, created_at);

CREATE TABLE IF NOT EXISTS resource_mappings (
    resource_id         INTEGER PRIMARY KEY,
    outlook_calendar_id TEXT    NOT NULL,
    enabled             INTEGER NOT NULL DEFAULT 1,
    created_at          TEXT    NOT NULL DEFAULT ''
);
`

// Store is the SQLite-backed mapping repository.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default path for the mapping database:
// ~/.local/share/outlookbookingsync/mappings.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "outlookbookingsync", "mappings.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema,
// and configures WAL mode.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer per process to avoid SQLITE_BUSY under WAL. Cross-process
	// writers are serialized by SQLite itself (busy_timeout above).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
