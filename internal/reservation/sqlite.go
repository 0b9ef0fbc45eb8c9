package reservation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

// The booking system's reservation tables. The sync engine reads them but
// never writes: the booking system remains the owner of this data.
const schema = `
CREATE TABLE IF NOT EXISTS bb_event (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id    INTEGER NOT NULL,
    name           TEXT    NOT NULL,
    description    TEXT    NOT NULL DEFAULT '',
    contact_name   TEXT    NOT NULL DEFAULT '',
    contact_email  TEXT    NOT NULL DEFAULT '',
    from_time      TEXT    NOT NULL,
    to_time        TEXT    NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS bb_booking (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id    INTEGER NOT NULL,
    group_name     TEXT    NOT NULL,
    description    TEXT    NOT NULL DEFAULT '',
    contact_name   TEXT    NOT NULL DEFAULT '',
    contact_email  TEXT    NOT NULL DEFAULT '',
    from_time      TEXT    NOT NULL,
    to_time        TEXT    NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS bb_allocation (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_id    INTEGER NOT NULL,
    organization   TEXT    NOT NULL,
    description    TEXT    NOT NULL DEFAULT '',
    contact_name   TEXT    NOT NULL DEFAULT '',
    contact_email  TEXT    NOT NULL DEFAULT '',
    from_time      TEXT    NOT NULL,
    to_time        TEXT    NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_event_resource      ON bb_event (resource_id, from_time);
CREATE INDEX IF NOT EXISTS idx_booking_resource    ON bb_booking (resource_id, from_time);
CREATE INDEX IF NOT EXISTS idx_allocation_resource ON bb_allocation (resource_id, from_time);
`

// DB is the SQLite-backed [Source].
type DB struct {
	db *sql.DB
}

// Open opens the booking database at path and ensures the reservation tables
// exist. A shared production database already has them; the DDL is idempotent.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening booking database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying booking schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Events returns active directly booked events matching the filter.
func (d *DB) Events(ctx context.Context, f Filter) ([]model.CalendarItem, error) {
	const q = `SELECT id, resource_id, name, description, contact_name, contact_email, from_time, to_time
		FROM bb_event WHERE active = 1`
	return d.query(ctx, model.ItemTypeEvent, q, f)
}

// Bookings returns active recurring-group bookings matching the filter.
func (d *DB) Bookings(ctx context.Context, f Filter) ([]model.CalendarItem, error) {
	const q = `SELECT id, resource_id, group_name, description, contact_name, contact_email, from_time, to_time
		FROM bb_booking WHERE active = 1`
	return d.query(ctx, model.ItemTypeBooking, q, f)
}

// Allocations returns active season allocations matching the filter.
func (d *DB) Allocations(ctx context.Context, f Filter) ([]model.CalendarItem, error) {
	const q = `SELECT id, resource_id, organization, description, contact_name, contact_email, from_time, to_time
		FROM bb_allocation WHERE active = 1`
	return d.query(ctx, model.ItemTypeAllocation, q, f)
}

// Exists reports whether the reservation is present and active in the given kind.
func (d *DB) Exists(ctx context.Context, t model.ItemType, id int64) (bool, error) {
	var table string
	switch t {
	case model.ItemTypeEvent:
		table = "bb_event"
	case model.ItemTypeBooking:
		table = "bb_booking"
	case model.ItemTypeAllocation:
		table = "bb_allocation"
	default:
		return false, fmt.Errorf("unknown reservation type %q", t)
	}

	var count int
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id = ? AND active = 1`, table)
	if err := d.db.QueryRowContext(ctx, q, id).Scan(&count); err != nil {
		return false, fmt.Errorf("checking %s id=%d: %w", t, id, err)
	}
	return count > 0, nil
}

func (d *DB) query(ctx context.Context, t model.ItemType, base string, f Filter) ([]model.CalendarItem, error) {
	q := base
	args := []any{}
	if f.ResourceID != 0 {
		q += ` AND resource_id = ?`
		args = append(args, f.ResourceID)
	}
	if !f.From.IsZero() {
		q += ` AND to_time >= ?`
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		q += ` AND from_time <= ?`
		args = append(args, formatTime(f.To))
	}
	q += ` ORDER BY from_time, id`

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s reservations: %w", t, err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.CalendarItem
	for rows.Next() {
		var it model.CalendarItem
		var from, to string
		if err := rows.Scan(&it.ID, &it.ResourceID, &it.Title, &it.Description,
			&it.OrganizerName, &it.OrganizerEmail, &from, &to); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", t, err)
		}
		it.Type = t
		it.Priority = model.PriorityFor(t)
		it.Active = true
		it.Start, _ = parseTime(from)
		it.End, _ = parseTime(to)
		items = append(items, it)
	}
	return items, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
