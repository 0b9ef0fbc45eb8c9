package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BridgeMapping is one persisted correspondence between a source-bridge event
// and a target-bridge event, scoped to a calendar pair.
type BridgeMapping struct {
	ID               int64
	SourceBridge     string
	TargetBridge     string
	SourceCalendarID string
	TargetCalendarID string
	SourceEventID    string
	TargetEventID    string
	EventData        string
	SyncStatus       SyncStatus
	SyncDirection    SyncDirection
	CreatedAt        time.Time
	LastSyncedAt     time.Time
	UpdatedAt        time.Time
}

// Scope identifies the calendar pair a sync batch operates on.
type Scope struct {
	SourceBridge     string
	TargetBridge     string
	SourceCalendarID string
	TargetCalendarID string
}

const bridgeMappingColumns = `
	id, source_bridge, target_bridge, source_calendar_id, target_calendar_id,
	source_event_id, target_event_id, event_data, sync_status, sync_direction,
	created_at, last_synced_at, updated_at`

// ListBridgeMappings returns every mapping in scope, most recent first.
// The orchestrator's "first match wins" lookup relies on this ordering.
func (s *Store) ListBridgeMappings(ctx context.Context, scope Scope) ([]*BridgeMapping, error) {
	q := `SELECT` + bridgeMappingColumns + `
		FROM bridge_mappings
		WHERE source_bridge = ? AND target_bridge = ?
		  AND source_calendar_id = ? AND target_calendar_id = ?
		ORDER BY created_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, q,
		scope.SourceBridge, scope.TargetBridge, scope.SourceCalendarID, scope.TargetCalendarID)
	if err != nil {
		return nil, fmt.Errorf("querying bridge mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*BridgeMapping
	for rows.Next() {
		m, err := scanBridgeMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// UpsertBridgeMapping inserts or replaces the mapping keyed by the scope plus
// source event id. The statement is a single atomic upsert so concurrent
// batches (including separate processes) cannot produce duplicate rows for
// one source event. The mapping's ID field is set from the stored row.
func (s *Store) UpsertBridgeMapping(ctx context.Context, m *BridgeMapping) error {
	const q = `
		INSERT INTO bridge_mappings
		    (source_bridge, target_bridge, source_calendar_id, target_calendar_id,
		     source_event_id, target_event_id, event_data, sync_status, sync_direction,
		     created_at, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_bridge, target_bridge, source_calendar_id, target_calendar_id, source_event_id)
		WHERE source_event_id != '' DO UPDATE SET
		    target_event_id = excluded.target_event_id,
		    event_data      = excluded.event_data,
		    sync_status     = excluded.sync_status,
		    sync_direction  = excluded.sync_direction,
		    last_synced_at  = excluded.last_synced_at,
		    updated_at      = excluded.updated_at
		RETURNING id`

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	var id int64
	err := s.db.QueryRowContext(ctx, q,
		m.SourceBridge, m.TargetBridge, m.SourceCalendarID, m.TargetCalendarID,
		m.SourceEventID, m.TargetEventID, m.EventData, m.SyncStatus, m.SyncDirection,
		formatTime(m.CreatedAt), formatTime(m.LastSyncedAt), formatTime(m.UpdatedAt),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("upserting bridge mapping for event %q: %w", m.SourceEventID, err)
	}
	m.ID = id
	return nil
}

// TouchBridgeMapping records a successful update propagation: refreshes the
// stored snapshot and last-synced time for the row. Reports false when no
// row has that id.
func (s *Store) TouchBridgeMapping(ctx context.Context, id int64, eventData string) (bool, error) {
	const q = `
		UPDATE bridge_mappings
		SET event_data = ?, sync_status = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`
	now := formatTime(time.Now().UTC())
	res, err := s.db.ExecContext(ctx, q, eventData, StatusSynced, now, now, id)
	if err != nil {
		return false, fmt.Errorf("touching bridge mapping id=%d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteBridgeMapping removes the mapping with the given database ID.
func (s *Store) DeleteBridgeMapping(ctx context.Context, id int64) error {
	const q = `DELETE FROM bridge_mappings WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("deleting bridge mapping id=%d: %w", id, err)
	}
	return nil
}

func scanBridgeMapping(sc scanner) (*BridgeMapping, error) {
	var m BridgeMapping
	var created, synced, updated string

	err := sc.Scan(
		&m.ID, &m.SourceBridge, &m.TargetBridge, &m.SourceCalendarID, &m.TargetCalendarID,
		&m.SourceEventID, &m.TargetEventID, &m.EventData, &m.SyncStatus, &m.SyncDirection,
		&created, &synced, &updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning bridge mapping row: %w", err)
	}

	m.CreatedAt, _ = parseTime(created)
	m.LastSyncedAt, _ = parseTime(synced)
	m.UpdatedAt, _ = parseTime(updated)
	return &m, nil
}
