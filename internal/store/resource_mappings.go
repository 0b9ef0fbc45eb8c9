package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ResourceMapping binds one bookable resource to one remote calendar. Rows
// are read-mostly configuration; the mapping service consults them to decide
// which resources are sync-eligible.
type ResourceMapping struct {
	ResourceID       int64
	RemoteCalendarID string
	Enabled          bool
	CreatedAt        time.Time
}

// UpsertResourceMapping inserts or replaces the calendar binding for a resource.
func (s *Store) UpsertResourceMapping(ctx context.Context, m *ResourceMapping) error {
	const q = `
		INSERT INTO resource_mappings (resource_id, outlook_calendar_id, enabled, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
		    outlook_calendar_id = excluded.outlook_calendar_id,
		    enabled             = excluded.enabled`
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, q, m.ResourceID, m.RemoteCalendarID, boolToInt(m.Enabled), formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("upserting resource mapping %d: %w", m.ResourceID, err)
	}
	return nil
}

// GetResourceMapping returns the binding for a resource, or (nil, nil) if the
// resource has no remote calendar.
func (s *Store) GetResourceMapping(ctx context.Context, resourceID int64) (*ResourceMapping, error) {
	const q = `SELECT resource_id, outlook_calendar_id, enabled, created_at FROM resource_mappings WHERE resource_id = ?`
	row := s.db.QueryRowContext(ctx, q, resourceID)
	return scanResourceMapping(row)
}

// ListResourceMappings returns every enabled binding, ordered by resource.
func (s *Store) ListResourceMappings(ctx context.Context) ([]*ResourceMapping, error) {
	const q = `SELECT resource_id, outlook_calendar_id, enabled, created_at FROM resource_mappings WHERE enabled = 1 ORDER BY resource_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying resource mappings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var mappings []*ResourceMapping
	for rows.Next() {
		m, err := scanResourceMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func scanResourceMapping(sc scanner) (*ResourceMapping, error) {
	var m ResourceMapping
	var enabled int
	var created string

	err := sc.Scan(&m.ResourceID, &m.RemoteCalendarID, &enabled, &created)
	if err == sql.ErrNoRows {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("scanning resource mapping row: %w", err)
	}

	m.Enabled = enabled != 0
	m.CreatedAt, _ = parseTime(created)
	return &m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
