package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/mapping"
	"github.com/PorticoEstate/outlookbookingsync/internal/model"
	"github.com/PorticoEstate/outlookbookingsync/internal/store"
)

// defaultSweepLimit bounds how many pending rows one sweep dispatches.
const defaultSweepLimit = 100

// SweepResult aggregates one pending-dispatch pass.
type SweepResult struct {
	Dispatched int                 `json:"dispatched"`
	Created    int                 `json:"created"`
	Updated    int                 `json:"updated"`
	Imported   int                 `json:"imported"`
	Errors     []mapping.ItemError `json:"errors,omitempty"`
}

// Sweeper dispatches pending reservation mappings to the remote bridge and
// imports remote-originated events it has not seen before. Together with
// [mapping.Service.BulkPopulate] it forms the reservation-side counterpart
// of the bridge-to-bridge [Orchestrator].
type Sweeper struct {
	service    *mapping.Service
	registry   *bridge.Registry
	bridgeName string
	limit      int
	log        *slog.Logger
}

// NewSweeper creates a Sweeper pushing to the named bridge.
func NewSweeper(service *mapping.Service, registry *bridge.Registry, bridgeName string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		service:    service,
		registry:   registry,
		bridgeName: bridgeName,
		limit:      defaultSweepLimit,
		log:        logger,
	}
}

// Run dispatches pending mapping rows, oldest highest-priority first.
// Per-row failures are marked on the row and collected; the sweep continues.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	remote, err := s.registry.Get(s.bridgeName)
	if err != nil {
		return result, fmt.Errorf("resolving bridge: %w", err)
	}

	pending, err := s.service.PendingSyncItems(ctx, s.limit)
	if err != nil {
		return result, err
	}

	for _, row := range pending {
		if err := s.dispatch(ctx, remote, row, &result); err != nil {
			result.Errors = append(result.Errors, mapping.ItemError{
				ItemType:   row.ReservationType,
				ItemID:     row.ReservationID,
				ResourceID: row.ResourceID,
				Error:      err.Error(),
			})
			if _, merr := s.service.MarkError(ctx, row.ReservationType, row.ReservationID, row.ResourceID, err.Error()); merr != nil {
				s.log.Error("marking mapping error failed", "mapping_id", row.ID, "error", merr)
			}
			continue
		}
		result.Dispatched++
	}

	s.log.Info("pending sweep complete",
		"dispatched", result.Dispatched,
		"created", result.Created,
		"updated", result.Updated,
		"errors", len(result.Errors),
	)
	return result, nil
}

// dispatch pushes one pending row to the remote calendar and records the
// outcome on the mapping table. The row's stored snapshot is the payload:
// it was rendered when the row was populated and refreshed on every upsert.
func (s *Sweeper) dispatch(ctx context.Context, remote bridge.Bridge, row *store.ReservationMapping, result *SweepResult) error {
	var ev model.RemoteEvent
	if err := json.Unmarshal([]byte(row.EventData), &ev); err != nil {
		return fmt.Errorf("parsing stored snapshot: %w", err)
	}

	if row.RemoteEventID == "" {
		var remoteID string
		err := bridge.Retry(ctx, bridge.DefaultMaxAttempts, func() error {
			var cerr error
			remoteID, cerr = remote.CreateEvent(ctx, row.RemoteCalendarID, ev)
			return cerr
		})
		if err != nil {
			return &bridge.PropagationError{Op: "create", Bridge: s.bridgeName, Err: err}
		}

		applied, err := s.service.UpdateWithRemoteEvent(ctx, row.ReservationType, row.ReservationID, row.ResourceID, remoteID)
		if err != nil {
			return err
		}
		if !applied {
			// Row removed by a concurrent cleanup between load and write.
			s.log.Warn("mapping vanished during dispatch", "mapping_id", row.ID)
			return nil
		}
		result.Created++
		return nil
	}

	var ok bool
	err := bridge.Retry(ctx, bridge.DefaultMaxAttempts, func() error {
		var uerr error
		ok, uerr = remote.UpdateEvent(ctx, row.RemoteCalendarID, row.RemoteEventID, ev)
		return uerr
	})
	if err != nil {
		return &bridge.PropagationError{Op: "update", Bridge: s.bridgeName, EventID: row.RemoteEventID, Err: err}
	}
	if !ok {
		return &bridge.PropagationError{
			Op: "update", Bridge: s.bridgeName, EventID: row.RemoteEventID,
			Err: fmt.Errorf("bridge declined the update"),
		}
	}

	applied, err := s.service.UpdateWithRemoteEvent(ctx, row.ReservationType, row.ReservationID, row.ResourceID, row.RemoteEventID)
	if err != nil {
		return err
	}
	if applied {
		result.Updated++
	}
	return nil
}

// ImportRemoteEvents scans every linked remote calendar for events the
// mapping table does not know yet and records them as imported rows. Events
// carrying this engine's provenance properties are its own pushes and are
// never imported. Per-event failures are isolated.
func (s *Sweeper) ImportRemoteEvents(ctx context.Context, bindings []*store.ResourceMapping, start, end time.Time) (SweepResult, error) {
	var result SweepResult

	remote, err := s.registry.Get(s.bridgeName)
	if err != nil {
		return result, fmt.Errorf("resolving bridge: %w", err)
	}

	for _, b := range bindings {
		events, err := remote.GetEvents(ctx, b.RemoteCalendarID, start, end)
		if err != nil {
			result.Errors = append(result.Errors, mapping.ItemError{
				ResourceID: b.ResourceID,
				Error:      fmt.Sprintf("fetching calendar %q: %v", b.RemoteCalendarID, err),
			})
			continue
		}

		for i := range events {
			ev := &events[i]
			if _, _, pushed := ev.ItemProvenance(); pushed {
				continue
			}

			existing, err := s.service.FindByRemoteEventID(ctx, ev.ID)
			if err != nil {
				result.Errors = append(result.Errors, mapping.ItemError{ResourceID: b.ResourceID, Error: err.Error()})
				continue
			}
			if existing != nil {
				continue
			}

			if _, err := s.service.CreateRemoteOriginatedMapping(ctx, *ev, b.ResourceID, b.RemoteCalendarID); err != nil {
				result.Errors = append(result.Errors, mapping.ItemError{ResourceID: b.ResourceID, Error: err.Error()})
				continue
			}
			s.log.Info("remote event imported", "remote_event_id", ev.ID, "resource_id", b.ResourceID)
			result.Imported++
		}
	}
	return result, nil
}
