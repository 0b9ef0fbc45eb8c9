package mapping

import (
	"context"
	"fmt"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
	"github.com/PorticoEstate/outlookbookingsync/internal/reservation"
	"github.com/PorticoEstate/outlookbookingsync/internal/store"
)

// ItemError records one isolated per-item failure during a bulk pass.
type ItemError struct {
	ItemType   model.ItemType `json:"item_type"`
	ItemID     int64          `json:"item_id"`
	ResourceID int64          `json:"resource_id"`
	Error      string         `json:"error"`
}

// BulkResult aggregates a bulk-populate pass.
type BulkResult struct {
	Created int         `json:"created"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// CleanupResult aggregates an orphan-cleanup pass.
type CleanupResult struct {
	Deleted int         `json:"deleted"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// UpsertMapping creates or updates the mapping row for a reservation in one
// atomic statement keyed by (type, id, resource). A second call with the same
// key overwrites the remote event id and status rather than creating a
// duplicate, which makes re-running a batch safe under concurrent invocation.
// Returns the mapping row id.
func (s *Service) UpsertMapping(ctx context.Context, it model.CalendarItem, remoteEventID, remoteCalendarID string, status store.SyncStatus) (int64, error) {
	ev := s.ToRemoteEvent(it)
	snapshot, err := ev.Snapshot()
	if err != nil {
		return 0, err
	}
	m := &store.ReservationMapping{
		ReservationType:  it.Type,
		ReservationID:    it.ID,
		ResourceID:       it.ResourceID,
		RemoteEventID:    remoteEventID,
		RemoteCalendarID: remoteCalendarID,
		EventData:        snapshot,
		SyncStatus:       status,
		SyncDirection:    store.DirectionToRemote,
		PriorityLevel:    it.Priority,
	}
	if status == store.StatusSynced {
		m.LastSyncedAt = time.Now().UTC()
	}
	return s.store.UpsertReservationMapping(ctx, m)
}

// UpdateWithRemoteEvent links an existing mapping row to its remote event.
// The bool result is the not-applied signal: false means no row matched and
// nothing was written. Callers must check it rather than assume success.
func (s *Service) UpdateWithRemoteEvent(ctx context.Context, t model.ItemType, reservationID, resourceID int64, remoteEventID string) (bool, error) {
	return s.store.UpdateWithRemoteEvent(ctx, t, reservationID, resourceID, remoteEventID, store.StatusSynced)
}

// MarkError records a propagation failure on the matching mapping row. Same
// not-applied signal as [Service.UpdateWithRemoteEvent].
func (s *Service) MarkError(ctx context.Context, t model.ItemType, reservationID, resourceID int64, message string) (bool, error) {
	return s.store.MarkError(ctx, t, reservationID, resourceID, message)
}

// BulkPopulate creates a pending mapping row for every unified item that has
// no mapping yet but whose resource is linked to a remote calendar. Per-item
// failures are collected and the pass continues; nothing aborts the batch.
func (s *Service) BulkPopulate(ctx context.Context, resourceID int64) (BulkResult, error) {
	var result BulkResult

	bindings, err := s.store.ListResourceMappings(ctx)
	if err != nil {
		return result, fmt.Errorf("loading resource mappings: %w", err)
	}
	calendarFor := make(map[int64]string, len(bindings))
	for _, b := range bindings {
		calendarFor[b.ResourceID] = b.RemoteCalendarID
	}

	items, err := s.UnifyCalendarItems(ctx, reservation.Filter{ResourceID: resourceID})
	if err != nil {
		return result, err
	}
	items = s.ResolveTimeConflicts(items)

	for _, it := range items {
		calendarID, linked := calendarFor[it.ResourceID]
		if !linked {
			continue
		}

		existing, err := s.store.FindReservationMapping(ctx, it.Type, it.ID, it.ResourceID)
		if err != nil {
			result.Errors = append(result.Errors, itemError(it, err))
			continue
		}
		if existing != nil {
			continue
		}

		if _, err := s.UpsertMapping(ctx, it, "", calendarID, store.StatusPending); err != nil {
			result.Errors = append(result.Errors, itemError(it, err))
			continue
		}
		result.Created++
	}

	s.log.Info("bulk populate complete", "created", result.Created, "errors", len(result.Errors))
	return result, nil
}

// PendingSyncItems returns mapping rows awaiting propagation (pending or
// error), ordered by priority then age. This is the dispatch contract the
// sync sweep relies on.
func (s *Service) PendingSyncItems(ctx context.Context, limit int) ([]*store.ReservationMapping, error) {
	return s.store.PendingSyncItems(ctx, limit)
}

// RequeueErrors moves error rows back to pending for the next sweep.
func (s *Service) RequeueErrors(ctx context.Context) (int64, error) {
	return s.store.RequeueErrors(ctx)
}

// CleanupOrphans deletes mapping rows whose reservation is gone or inactive
// in every reservation kind. A row referencing a still-active reservation of
// any kind is preserved, so a reservation that was re-filed under a different
// kind keeps its mapping. Per-row failures are collected and the pass
// continues; a row whose liveness cannot be verified is never deleted.
func (s *Service) CleanupOrphans(ctx context.Context) (CleanupResult, error) {
	var result CleanupResult

	mappings, err := s.store.ListReservationMappings(ctx, 0)
	if err != nil {
		return result, err
	}

	allKinds := []model.ItemType{model.ItemTypeEvent, model.ItemTypeBooking, model.ItemTypeAllocation}

	for _, m := range mappings {
		orphaned := true
		for _, kind := range allKinds {
			alive, err := s.source.Exists(ctx, kind, m.ReservationID)
			if err != nil {
				orphaned = false
				result.Errors = append(result.Errors, ItemError{
					ItemType:   m.ReservationType,
					ItemID:     m.ReservationID,
					ResourceID: m.ResourceID,
					Error:      fmt.Sprintf("checking %s id=%d: %v", kind, m.ReservationID, err),
				})
				break
			}
			if alive {
				orphaned = false
				break
			}
		}
		if !orphaned {
			continue
		}

		if err := s.store.DeleteReservationMapping(ctx, m.ID); err != nil {
			result.Errors = append(result.Errors, ItemError{
				ItemType:   m.ReservationType,
				ItemID:     m.ReservationID,
				ResourceID: m.ResourceID,
				Error:      err.Error(),
			})
			continue
		}
		s.log.Info("orphaned mapping removed",
			"mapping_id", m.ID,
			"reservation", fmt.Sprintf("%s/%d", m.ReservationType, m.ReservationID),
			"resource_id", m.ResourceID,
		)
		result.Deleted++
	}
	return result, nil
}

// ResourceBindings returns the enabled resource → remote calendar bindings.
func (s *Service) ResourceBindings(ctx context.Context) ([]*store.ResourceMapping, error) {
	return s.store.ListResourceMappings(ctx)
}

// FindByRemoteEventID returns the mapping holding the given remote event id,
// or (nil, nil) when the event is unknown. Used to avoid duplicate import of
// remote-originated events.
func (s *Service) FindByRemoteEventID(ctx context.Context, remoteEventID string) (*store.ReservationMapping, error) {
	return s.store.FindByRemoteEventID(ctx, remoteEventID)
}

// CreateRemoteOriginatedMapping records an event discovered on the remote
// side with no local reservation. Idempotent on the remote event id: calling
// it again refreshes the snapshot instead of duplicating the row. The row is
// created with status imported and remote-to-booking direction.
func (s *Service) CreateRemoteOriginatedMapping(ctx context.Context, ev model.RemoteEvent, resourceID int64, remoteCalendarID string) (int64, error) {
	snapshot, err := ev.Snapshot()
	if err != nil {
		return 0, err
	}
	return s.store.UpsertRemoteOriginated(ctx, ev.ID, remoteCalendarID, resourceID, snapshot)
}

func itemError(it model.CalendarItem, err error) ItemError {
	return ItemError{ItemType: it.Type, ItemID: it.ID, ResourceID: it.ResourceID, Error: err.Error()}
}
