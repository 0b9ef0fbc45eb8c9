package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

// ReservationMapping is one row of the outlook_calendar_mapping table: the
// persisted link between a source reservation and its remote calendar event.
// ReservationType is empty for rows discovered on the remote side with no
// local reservation yet.
type ReservationMapping struct {
	ID                 int64
	ReservationType    model.ItemType // empty when remote-originated
	ReservationID      int64
	ResourceID         int64
	RemoteEventID      string
	RemoteCalendarID   string
	EventData          string
	SyncStatus         SyncStatus
	SyncDirection      SyncDirection
	PriorityLevel      int
	ErrorMessage       string
	CreatedAt          time.Time
	LastSyncedAt       time.Time
	LastModifiedRemote time.Time
	UpdatedAt          time.Time
}

const reservationMappingColumns = `
	id, reservation_type, reservation_id, resource_id,
	outlook_event_id, outlook_calendar_id, event_data,
	sync_status, sync_direction, priority_level, error_message,
	created_at, last_synced_at, last_modified_remote, updated_at`

// UpsertReservationMapping inserts or updates the row keyed by
// (reservation_type, reservation_id, resource_id) in one atomic statement.
// On conflict the remote event id, status, and sync timestamps are
// overwritten; created_at is preserved. Returns the row id.
func (s *Store) UpsertReservationMapping(ctx context.Context, m *ReservationMapping) (int64, error) {
	if m.ReservationType == "" {
		return 0, fmt.Errorf("upserting reservation mapping: reservation type is required")
	}

	// RETURNING reports the row id on both the insert and the update arm;
	// LastInsertId would be stale on conflict.
	const q = `
		INSERT INTO outlook_calendar_mapping
		    (reservation_type, reservation_id, resource_id,
		     outlook_event_id, outlook_calendar_id, event_data,
		     sync_status, sync_direction, priority_level, error_message,
		     created_at, last_synced_at, last_modified_remote, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(reservation_type, reservation_id, resource_id)
		WHERE reservation_type != '' DO UPDATE SET
		    outlook_event_id    = excluded.outlook_event_id,
		    outlook_calendar_id = excluded.outlook_calendar_id,
		    event_data          = excluded.event_data,
		    sync_status         = excluded.sync_status,
		    priority_level      = excluded.priority_level,
		    error_message       = excluded.error_message,
		    last_synced_at      = excluded.last_synced_at,
		    updated_at          = excluded.updated_at
		RETURNING id`

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var id int64
	err := s.db.QueryRowContext(ctx, q,
		m.ReservationType, m.ReservationID, m.ResourceID,
		m.RemoteEventID, m.RemoteCalendarID, m.EventData,
		m.SyncStatus, m.SyncDirection, m.PriorityLevel, m.ErrorMessage,
		formatTime(m.CreatedAt), formatTime(m.LastSyncedAt),
		formatTime(m.LastModifiedRemote), formatTime(m.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting mapping %s/%d/%d: %w", m.ReservationType, m.ReservationID, m.ResourceID, err)
	}
	m.ID = id
	return id, nil
}

// UpsertRemoteOriginated inserts or updates a mapping for an event discovered
// on the remote side with no local reservation, keyed by the remote event id.
// The row carries no reservation identity, direction remote-to-booking, and
// status imported. Returns the row id.
func (s *Store) UpsertRemoteOriginated(ctx context.Context, remoteEventID, remoteCalendarID string, resourceID int64, eventData string) (int64, error) {
	if remoteEventID == "" {
		return 0, fmt.Errorf("upserting remote-originated mapping: remote event id is required")
	}

	const q = `
		INSERT INTO outlook_calendar_mapping
		    (reservation_type, reservation_id, resource_id,
		     outlook_event_id, outlook_calendar_id, event_data,
		     sync_status, sync_direction, priority_level,
		     created_at, updated_at)
		VALUES ('', 0, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(outlook_event_id) WHERE outlook_event_id != '' DO UPDATE SET
		    outlook_calendar_id = excluded.outlook_calendar_id,
		    event_data          = excluded.event_data,
		    updated_at          = excluded.updated_at
		RETURNING id`

	now := formatTime(time.Now().UTC())
	var id int64
	err := s.db.QueryRowContext(ctx, q,
		resourceID, remoteEventID, remoteCalendarID, eventData,
		StatusImported, DirectionFromRemote, model.PriorityAllocation,
		now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting remote-originated mapping %q: %w", remoteEventID, err)
	}
	return id, nil
}

// UpdateWithRemoteEvent links an existing reservation row to its remote event
// and advances the status. It reports false (not an error) when no row
// matches; callers must check the signal rather than assume success.
func (s *Store) UpdateWithRemoteEvent(ctx context.Context, t model.ItemType, reservationID, resourceID int64, remoteEventID string, status SyncStatus) (bool, error) {
	const q = `
		UPDATE outlook_calendar_mapping
		SET outlook_event_id = ?, sync_status = ?, error_message = '',
		    last_synced_at = ?, updated_at = ?
		WHERE reservation_type = ? AND reservation_id = ? AND resource_id = ?`
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, q, remoteEventID, status, now, now, t, reservationID, resourceID)
	if err != nil {
		return false, fmt.Errorf("updating mapping %s/%d/%d with remote event: %w", t, reservationID, resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkError records a propagation failure on the matching row. Same
// not-applied signal as [Store.UpdateWithRemoteEvent].
func (s *Store) MarkError(ctx context.Context, t model.ItemType, reservationID, resourceID int64, message string) (bool, error) {
	const q = `
		UPDATE outlook_calendar_mapping
		SET sync_status = ?, error_message = ?, updated_at = ?
		WHERE reservation_type = ? AND reservation_id = ? AND resource_id = ?`
	res, err := s.db.ExecContext(ctx, q, StatusError, message, formatTime(time.Now().UTC()), t, reservationID, resourceID)
	if err != nil {
		return false, fmt.Errorf("marking mapping %s/%d/%d as error: %w", t, reservationID, resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RequeueErrors moves every error row back to pending so the next sweep
// retries it. Returns the number of rows re-queued.
func (s *Store) RequeueErrors(ctx context.Context) (int64, error) {
	const q = `
		UPDATE outlook_calendar_mapping
		SET sync_status = ?, error_message = '', updated_at = ?
		WHERE sync_status = ?`
	res, err := s.db.ExecContext(ctx, q, StatusPending, formatTime(time.Now().UTC()), StatusError)
	if err != nil {
		return 0, fmt.Errorf("re-queueing error mappings: %w", err)
	}
	return res.RowsAffected()
}

// PendingSyncItems returns rows awaiting propagation (pending or error),
// oldest highest-priority first. This ordering is the dispatch contract the
// sync sweep relies on.
func (s *Store) PendingSyncItems(ctx context.Context, limit int) ([]*ReservationMapping, error) {
	q := `SELECT` + reservationMappingColumns + `
		FROM outlook_calendar_mapping
		WHERE sync_status IN (?, ?)
		ORDER BY priority_level ASC, created_at ASC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, StatusPending, StatusError, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending sync items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectReservationMappings(rows)
}

// FindReservationMapping returns the row for the given reservation key,
// or (nil, nil) if no such row exists.
func (s *Store) FindReservationMapping(ctx context.Context, t model.ItemType, reservationID, resourceID int64) (*ReservationMapping, error) {
	q := `SELECT` + reservationMappingColumns + `
		FROM outlook_calendar_mapping
		WHERE reservation_type = ? AND reservation_id = ? AND resource_id = ?`
	row := s.db.QueryRowContext(ctx, q, t, reservationID, resourceID)
	return scanReservationMapping(row)
}

// FindByRemoteEventID returns the row holding the given remote event id,
// or (nil, nil) if no such row exists. Used to avoid duplicate import of
// remote-originated events.
func (s *Store) FindByRemoteEventID(ctx context.Context, remoteEventID string) (*ReservationMapping, error) {
	q := `SELECT` + reservationMappingColumns + `
		FROM outlook_calendar_mapping
		WHERE outlook_event_id = ?`
	row := s.db.QueryRowContext(ctx, q, remoteEventID)
	return scanReservationMapping(row)
}

// ListReservationMappings returns every row carrying a reservation identity,
// optionally filtered to one resource. Used by orphan cleanup.
func (s *Store) ListReservationMappings(ctx context.Context, resourceID int64) ([]*ReservationMapping, error) {
	q := `SELECT` + reservationMappingColumns + `
		FROM outlook_calendar_mapping
		WHERE reservation_type != ''`
	args := []any{}
	if resourceID != 0 {
		q += ` AND resource_id = ?`
		args = append(args, resourceID)
	}
	q += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying reservation mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return collectReservationMappings(rows)
}

// DeleteReservationMapping removes the row with the given database ID.
func (s *Store) DeleteReservationMapping(ctx context.Context, id int64) error {
	const q = `DELETE FROM outlook_calendar_mapping WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting reservation mapping id=%d: %w", id, err)
	}
	return nil
}

func collectReservationMappings(rows *sql.Rows) ([]*ReservationMapping, error) {
	var mappings []*ReservationMapping
	for rows.Next() {
		m, err := scanReservationMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func scanReservationMapping(sc scanner) (*ReservationMapping, error) {
	var m ReservationMapping
	var created, synced, modified, updated string

	err := sc.Scan(
		&m.ID, &m.ReservationType, &m.ReservationID, &m.ResourceID,
		&m.RemoteEventID, &m.RemoteCalendarID, &m.EventData,
		&m.SyncStatus, &m.SyncDirection, &m.PriorityLevel, &m.ErrorMessage,
		&created, &synced, &modified, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning reservation mapping row: %w", err)
	}

	m.CreatedAt, _ = parseTime(created)
	m.LastSyncedAt, _ = parseTime(synced)
	m.LastModifiedRemote, _ = parseTime(modified)
	m.UpdatedAt, _ = parseTime(updated)
	return &m, nil
}
