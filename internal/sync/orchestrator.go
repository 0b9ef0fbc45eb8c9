// Package sync implements the bridge-to-bridge synchronization engine. It
// diffs a source bridge's events against the mapping store, propagates
// creates, updates, and deletions to the target bridge, and aggregates the
// outcome with per-event error isolation.
//
// The package contains three components:
//
//   - [Orchestrator] runs one bridge-to-bridge batch ([Orchestrator.SyncBetweenBridges]).
//   - [Sweeper] dispatches pending reservation mappings and imports
//     remote-originated events.
//   - [Engine] runs the scheduled loop around both.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/model"
	"github.com/PorticoEstate/outlookbookingsync/internal/store"
)

// Actions recorded per processed event.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionSkipped = "skipped"
)

// Skip reasons.
const (
	ReasonUpdatesDisabled = "updates_disabled"
	ReasonUnchanged       = "unchanged"
	ReasonDryRun          = "dry_run"
)

// Options control a single batch.
type Options struct {
	// HandleDeletions propagates the removal of source events that still
	// have a mapping.
	HandleDeletions bool

	// SkipUpdates leaves already-mapped events untouched.
	SkipUpdates bool

	// DryRun computes the would-be actions without any remote write or
	// mapping mutation.
	DryRun bool
}

// Request names the bridge and calendar pair plus the date window to sync.
type Request struct {
	SourceBridge     string
	TargetBridge     string
	SourceCalendarID string
	TargetCalendarID string
	Start            time.Time
	End              time.Time
	Options          Options
}

// ProcessedEvent is the per-event outcome in a batch result.
type ProcessedEvent struct {
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
	SourceEventID string `json:"source_event_id"`
	TargetEventID string `json:"target_event_id,omitempty"`
}

// EventError captures one isolated per-event failure, with the raw event
// payload for diagnostics.
type EventError struct {
	EventID   string             `json:"event_id"`
	Error     string             `json:"error"`
	EventData *model.RemoteEvent `json:"event_data,omitempty"`
}

// Result aggregates a batch. It is returned even when individual events
// failed; only a failure to start the batch at all surfaces as an error.
type Result struct {
	RunID             string           `json:"run_id"`
	SourceBridge      string           `json:"source_bridge"`
	TargetBridge      string           `json:"target_bridge"`
	SourceEventsFound int              `json:"source_events_found"`
	Created           int              `json:"created"`
	Updated           int              `json:"updated"`
	Deleted           int              `json:"deleted"`
	Skipped           int              `json:"skipped"`
	Errors            []EventError     `json:"errors"`
	ProcessedEvents   []ProcessedEvent `json:"processed_events"`
}

// Orchestrator performs bridge-to-bridge sync batches. It is stateless
// between calls: all persistent state lives in the mapping store.
type Orchestrator struct {
	registry *bridge.Registry
	store    *store.Store
	log      *slog.Logger
}

// NewOrchestrator creates an Orchestrator wired to the bridge registry and
// mapping store.
func NewOrchestrator(registry *bridge.Registry, st *store.Store, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{registry: registry, store: st, log: logger}
}

// SyncBetweenBridges runs one batch: fetch source events for the window,
// classify each against the loaded mappings, propagate to the target bridge,
// and optionally reconcile deletions. Each event is an independent unit of
// work: a failure is recorded in the result and the batch continues. The
// only errors returned are resolution failures before the batch starts.
func (o *Orchestrator) SyncBetweenBridges(ctx context.Context, req Request) (*Result, error) {
	source, err := o.registry.Get(req.SourceBridge)
	if err != nil {
		return nil, fmt.Errorf("resolving source bridge: %w", err)
	}
	target, err := o.registry.Get(req.TargetBridge)
	if err != nil {
		return nil, fmt.Errorf("resolving target bridge: %w", err)
	}

	result := &Result{
		RunID:        uuid.NewString(),
		SourceBridge: req.SourceBridge,
		TargetBridge: req.TargetBridge,
		Errors:       []EventError{},
	}

	events, err := source.GetEvents(ctx, req.SourceCalendarID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("fetching source events from %q: %w", req.SourceBridge, err)
	}
	result.SourceEventsFound = len(events)

	scope := store.Scope{
		SourceBridge:     req.SourceBridge,
		TargetBridge:     req.TargetBridge,
		SourceCalendarID: req.SourceCalendarID,
		TargetCalendarID: req.TargetCalendarID,
	}
	mappings, err := o.store.ListBridgeMappings(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("loading mappings: %w", err)
	}

	// Mappings arrive most-recent-first; the first match per source event id
	// wins, so a stale duplicate (which the unique index should prevent
	// anyway) can never shadow the latest row.
	bySourceID := make(map[string]*store.BridgeMapping, len(mappings))
	for _, m := range mappings {
		if _, ok := bySourceID[m.SourceEventID]; !ok {
			bySourceID[m.SourceEventID] = m
		}
	}

	seen := make(map[string]bool, len(events))
	for i := range events {
		ev := &events[i]
		seen[ev.ID] = true
		o.processEvent(ctx, target, scope, req.Options, bySourceID[ev.ID], ev, result)
	}

	if req.Options.HandleDeletions {
		o.reconcileDeletions(ctx, target, req, bySourceID, seen, result)
	}

	o.log.Info("bridge sync complete",
		"run_id", result.RunID,
		"source", req.SourceBridge,
		"target", req.TargetBridge,
		"events", result.SourceEventsFound,
		"created", result.Created,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
	)
	return result, nil
}

// processEvent classifies and propagates a single source event. All failures
// are recorded on the result; nothing aborts the batch.
func (o *Orchestrator) processEvent(ctx context.Context, target bridge.Bridge, scope store.Scope, opts Options, m *store.BridgeMapping, ev *model.RemoteEvent, result *Result) {
	record := func(action, reason, targetID string) {
		result.ProcessedEvents = append(result.ProcessedEvents, ProcessedEvent{
			Action:        action,
			Reason:        reason,
			SourceEventID: ev.ID,
			TargetEventID: targetID,
		})
	}
	fail := func(err error) {
		o.log.Error("event sync failed", "source_event_id", ev.ID, "error", err)
		result.Errors = append(result.Errors, EventError{EventID: ev.ID, Error: err.Error(), EventData: ev})
	}

	if m == nil {
		if opts.DryRun {
			result.Created++
			record(ActionCreated, ReasonDryRun, "")
			return
		}
		targetID, err := o.createOnTarget(ctx, target, scope, ev)
		if err != nil {
			fail(err)
			return
		}
		result.Created++
		record(ActionCreated, "", targetID)
		return
	}

	if opts.SkipUpdates {
		result.Skipped++
		record(ActionSkipped, ReasonUpdatesDisabled, m.TargetEventID)
		return
	}

	if unchanged(m.EventData, ev) {
		result.Skipped++
		record(ActionSkipped, ReasonUnchanged, m.TargetEventID)
		return
	}

	if opts.DryRun {
		result.Updated++
		record(ActionUpdated, ReasonDryRun, m.TargetEventID)
		return
	}

	if err := o.updateOnTarget(ctx, target, m, ev); err != nil {
		fail(err)
		return
	}
	result.Updated++
	record(ActionUpdated, "", m.TargetEventID)
}

func (o *Orchestrator) createOnTarget(ctx context.Context, target bridge.Bridge, scope store.Scope, ev *model.RemoteEvent) (string, error) {
	targetID, err := target.CreateEvent(ctx, scope.TargetCalendarID, *ev)
	if err != nil {
		return "", &bridge.PropagationError{Op: "create", Bridge: scope.TargetBridge, EventID: ev.ID, Err: err}
	}

	snapshot, err := ev.Snapshot()
	if err != nil {
		return "", err
	}
	m := &store.BridgeMapping{
		SourceBridge:     scope.SourceBridge,
		TargetBridge:     scope.TargetBridge,
		SourceCalendarID: scope.SourceCalendarID,
		TargetCalendarID: scope.TargetCalendarID,
		SourceEventID:    ev.ID,
		TargetEventID:    targetID,
		EventData:        snapshot,
		SyncStatus:       store.StatusSynced,
		SyncDirection:    store.DirectionToRemote,
		LastSyncedAt:     time.Now().UTC(),
	}
	if err := o.store.UpsertBridgeMapping(ctx, m); err != nil {
		return "", err
	}
	return targetID, nil
}

func (o *Orchestrator) updateOnTarget(ctx context.Context, target bridge.Bridge, m *store.BridgeMapping, ev *model.RemoteEvent) error {
	ok, err := target.UpdateEvent(ctx, m.TargetCalendarID, m.TargetEventID, *ev)
	if err != nil {
		return &bridge.PropagationError{Op: "update", Bridge: m.TargetBridge, EventID: m.TargetEventID, Err: err}
	}
	if !ok {
		return &bridge.PropagationError{
			Op: "update", Bridge: m.TargetBridge, EventID: m.TargetEventID,
			Err: fmt.Errorf("bridge declined the update"),
		}
	}

	snapshot, err := ev.Snapshot()
	if err != nil {
		return err
	}
	applied, err := o.store.TouchBridgeMapping(ctx, m.ID, snapshot)
	if err != nil {
		return err
	}
	if !applied {
		// A concurrent deletion pass removed the row; the next batch will
		// recreate it from scratch.
		o.log.Warn("mapping vanished during update", "mapping_id", m.ID, "source_event_id", m.SourceEventID)
	}
	return nil
}

// reconcileDeletions removes the target event and mapping row for every
// mapping whose source event is absent from the fetched set. Failures are
// isolated per mapping.
func (o *Orchestrator) reconcileDeletions(ctx context.Context, target bridge.Bridge, req Request, bySourceID map[string]*store.BridgeMapping, seen map[string]bool, result *Result) {
	for sourceID, m := range bySourceID {
		if seen[sourceID] {
			continue
		}

		if req.Options.DryRun {
			result.Deleted++
			result.ProcessedEvents = append(result.ProcessedEvents, ProcessedEvent{
				Action: ActionDeleted, Reason: ReasonDryRun,
				SourceEventID: sourceID, TargetEventID: m.TargetEventID,
			})
			continue
		}

		if _, err := target.DeleteEvent(ctx, req.TargetCalendarID, m.TargetEventID); err != nil {
			perr := &bridge.PropagationError{Op: "delete", Bridge: req.TargetBridge, EventID: m.TargetEventID, Err: err}
			o.log.Error("deletion propagation failed", "source_event_id", sourceID, "error", perr)
			result.Errors = append(result.Errors, EventError{EventID: sourceID, Error: perr.Error()})
			continue
		}
		if err := o.store.DeleteBridgeMapping(ctx, m.ID); err != nil {
			result.Errors = append(result.Errors, EventError{EventID: sourceID, Error: err.Error()})
			continue
		}

		result.Deleted++
		result.ProcessedEvents = append(result.ProcessedEvents, ProcessedEvent{
			Action:        ActionDeleted,
			SourceEventID: sourceID,
			TargetEventID: m.TargetEventID,
		})
	}
}

// unchanged reports whether the stored snapshot matches the event's content
// hash, so a no-op re-sync makes no remote call at all.
func unchanged(snapshot string, ev *model.RemoteEvent) bool {
	if snapshot == "" {
		return false
	}
	stored, err := model.SnapshotHash(snapshot)
	if err != nil {
		return false
	}
	return stored == ev.ContentHash()
}
