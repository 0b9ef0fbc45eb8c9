package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-mappings.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.db")
	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("s1.Close: %v", err)
	}

	// Re-opening the same file must not fail or wipe data.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("s2.Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Reservation mappings
// ---------------------------------------------------------------------------

func sampleReservationMapping() *ReservationMapping {
	return &ReservationMapping{
		ReservationType:  model.ItemTypeBooking,
		ReservationID:    42,
		ResourceID:       7,
		RemoteEventID:    "evt-1",
		RemoteCalendarID: "cal-7",
		EventData:        `{"subject":"Training"}`,
		SyncStatus:       StatusSynced,
		SyncDirection:    DirectionToRemote,
		PriorityLevel:    model.PriorityBooking,
	}
}

func TestUpsertReservationMapping_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := sampleReservationMapping()
	id1, err := s.UpsertReservationMapping(ctx, first)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Insert an unrelated row in between so a stale last-insert id on the
	// conflict path would surface as the wrong id.
	other := sampleReservationMapping()
	other.ReservationID = 43
	other.RemoteEventID = "evt-other"
	if _, err := s.UpsertReservationMapping(ctx, other); err != nil {
		t.Fatalf("unrelated upsert: %v", err)
	}

	// Same natural key as the first row, different remote event id and status.
	second := sampleReservationMapping()
	second.RemoteEventID = "evt-2"
	second.SyncStatus = StatusPending
	id2, err := s.UpsertReservationMapping(ctx, second)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("conflict upsert returned id %d, want the original row id %d", id2, id1)
	}

	got, err := s.FindReservationMapping(ctx, model.ItemTypeBooking, 42, 7)
	if err != nil {
		t.Fatalf("FindReservationMapping: %v", err)
	}
	if got == nil {
		t.Fatal("mapping not found after upsert")
	}
	if got.RemoteEventID != "evt-2" {
		t.Errorf("RemoteEventID = %q, want evt-2 (fields must reflect the second call)", got.RemoteEventID)
	}
	if got.SyncStatus != StatusPending {
		t.Errorf("SyncStatus = %q, want pending", got.SyncStatus)
	}

	rows, err := s.ListReservationMappings(ctx, 0)
	if err != nil {
		t.Fatalf("ListReservationMappings: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("row count = %d, want exactly 2", len(rows))
	}
}

func TestFindReservationMapping_NotFoundSentinel(t *testing.T) {
	s := openTestStore(t)
	got, err := s.FindReservationMapping(context.Background(), model.ItemTypeEvent, 1, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected (nil, nil) for missing row, got %+v", got)
	}
}

func TestUpdateWithRemoteEvent_NotAppliedSignal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applied, err := s.UpdateWithRemoteEvent(ctx, model.ItemTypeEvent, 99, 1, "evt-x", StatusSynced)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied {
		t.Error("update of a missing row reported applied=true")
	}

	m := sampleReservationMapping()
	m.SyncStatus = StatusPending
	m.RemoteEventID = ""
	if _, err := s.UpsertReservationMapping(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	applied, err = s.UpdateWithRemoteEvent(ctx, model.ItemTypeBooking, 42, 7, "evt-new", StatusSynced)
	if err != nil {
		t.Fatalf("UpdateWithRemoteEvent: %v", err)
	}
	if !applied {
		t.Fatal("update of an existing row reported applied=false")
	}

	got, _ := s.FindReservationMapping(ctx, model.ItemTypeBooking, 42, 7)
	if got.RemoteEventID != "evt-new" || got.SyncStatus != StatusSynced {
		t.Errorf("row = %q/%q, want evt-new/synced", got.RemoteEventID, got.SyncStatus)
	}
	if got.LastSyncedAt.IsZero() {
		t.Error("LastSyncedAt was not touched")
	}
}

func TestMarkErrorAndRequeue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	m := sampleReservationMapping()
	if _, err := s.UpsertReservationMapping(ctx, m); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	applied, err := s.MarkError(ctx, model.ItemTypeBooking, 42, 7, "remote refused")
	if err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	if !applied {
		t.Fatal("MarkError on existing row reported applied=false")
	}

	got, _ := s.FindReservationMapping(ctx, model.ItemTypeBooking, 42, 7)
	if got.SyncStatus != StatusError || got.ErrorMessage != "remote refused" {
		t.Errorf("row = %q/%q, want error/remote refused", got.SyncStatus, got.ErrorMessage)
	}

	n, err := s.RequeueErrors(ctx)
	if err != nil {
		t.Fatalf("RequeueErrors: %v", err)
	}
	if n != 1 {
		t.Errorf("requeued %d rows, want 1", n)
	}
	got, _ = s.FindReservationMapping(ctx, model.ItemTypeBooking, 42, 7)
	if got.SyncStatus != StatusPending || got.ErrorMessage != "" {
		t.Errorf("row = %q/%q, want pending with cleared message", got.SyncStatus, got.ErrorMessage)
	}
}

func TestPendingSyncItems_Ordering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	insert := func(typ model.ItemType, id int64, status SyncStatus, created time.Time) {
		t.Helper()
		m := &ReservationMapping{
			ReservationType: typ,
			ReservationID:   id,
			ResourceID:      1,
			SyncStatus:      status,
			SyncDirection:   DirectionToRemote,
			PriorityLevel:   model.PriorityFor(typ),
			CreatedAt:       created,
		}
		if _, err := s.UpsertReservationMapping(ctx, m); err != nil {
			t.Fatalf("upsert %s/%d: %v", typ, id, err)
		}
	}

	// Events rank first (3 before 2 by age), then the booking, then the
	// allocation. Row 4 is already synced and must not appear.
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	insert(model.ItemTypeAllocation, 1, StatusPending, base)
	insert(model.ItemTypeEvent, 2, StatusError, base.Add(2*time.Hour))
	insert(model.ItemTypeEvent, 3, StatusPending, base.Add(1*time.Hour))
	insert(model.ItemTypeBooking, 4, StatusSynced, base)
	insert(model.ItemTypeBooking, 5, StatusPending, base.Add(3*time.Hour))

	got, err := s.PendingSyncItems(ctx, 10)
	if err != nil {
		t.Fatalf("PendingSyncItems: %v", err)
	}

	var ids []int64
	for _, m := range got {
		ids = append(ids, m.ReservationID)
	}
	want := []int64{3, 2, 5, 1}
	if len(ids) != len(want) {
		t.Fatalf("got %d rows (%v), want %d", len(ids), ids, len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("position %d: got reservation %d, want %d (order %v)", i, ids[i], want[i], ids)
		}
	}
}

func TestUpsertRemoteOriginated_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.UpsertRemoteOriginated(ctx, "remote-1", "cal-7", 7, `{"subject":"External"}`)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	// Another remote event in between so the conflict re-upsert cannot lean
	// on the connection's last-insert id.
	if _, err := s.UpsertRemoteOriginated(ctx, "remote-2", "cal-7", 7, `{"subject":"Other"}`); err != nil {
		t.Fatalf("unrelated upsert: %v", err)
	}
	id2, err := s.UpsertRemoteOriginated(ctx, "remote-1", "cal-7", 7, `{"subject":"External v2"}`)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if id1 != id2 {
		t.Errorf("conflict upsert returned id %d, want the original row id %d", id2, id1)
	}

	got, err := s.FindByRemoteEventID(ctx, "remote-1")
	if err != nil {
		t.Fatalf("FindByRemoteEventID: %v", err)
	}
	if got == nil {
		t.Fatal("row not found")
	}
	if got.SyncStatus != StatusImported {
		t.Errorf("SyncStatus = %q, want imported", got.SyncStatus)
	}
	if got.SyncDirection != DirectionFromRemote {
		t.Errorf("SyncDirection = %q, want remote_to_booking", got.SyncDirection)
	}
	if got.ReservationType != "" {
		t.Errorf("ReservationType = %q, want empty for remote-originated row", got.ReservationType)
	}
	if got.EventData != `{"subject":"External v2"}` {
		t.Errorf("EventData = %q, want the refreshed snapshot", got.EventData)
	}
}

// ---------------------------------------------------------------------------
// Bridge mappings
// ---------------------------------------------------------------------------

func testScope() Scope {
	return Scope{
		SourceBridge:     "booking",
		TargetBridge:     "remote",
		SourceCalendarID: "7",
		TargetCalendarID: "cal-7",
	}
}

func TestUpsertBridgeMapping_IdempotentPerSourceEvent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	m := &BridgeMapping{
		SourceBridge:     scope.SourceBridge,
		TargetBridge:     scope.TargetBridge,
		SourceCalendarID: scope.SourceCalendarID,
		TargetCalendarID: scope.TargetCalendarID,
		SourceEventID:    "src-1",
		TargetEventID:    "tgt-1",
		SyncStatus:       StatusSynced,
		SyncDirection:    DirectionToRemote,
	}
	if err := s.UpsertBridgeMapping(ctx, m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	firstID := m.ID

	// A second source event between the two upserts keeps the conflict path
	// honest about which row id it reports.
	other := *m
	other.ID = 0
	other.SourceEventID = "src-2"
	other.TargetEventID = "tgt-9"
	if err := s.UpsertBridgeMapping(ctx, &other); err != nil {
		t.Fatalf("unrelated upsert: %v", err)
	}

	dup := *m
	dup.ID = 0
	dup.TargetEventID = "tgt-2"
	if err := s.UpsertBridgeMapping(ctx, &dup); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if dup.ID != firstID {
		t.Errorf("conflict upsert set ID %d, want the original row id %d", dup.ID, firstID)
	}

	rows, err := s.ListBridgeMappings(ctx, scope)
	if err != nil {
		t.Fatalf("ListBridgeMappings: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("row count = %d, want 2", len(rows))
	}
	for _, row := range rows {
		if row.SourceEventID == "src-1" && row.TargetEventID != "tgt-2" {
			t.Errorf("src-1 TargetEventID = %q, want tgt-2", row.TargetEventID)
		}
	}
}

func TestListBridgeMappings_ScopedAndLatestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	scope := testScope()

	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	for i, srcID := range []string{"a", "b", "c"} {
		m := &BridgeMapping{
			SourceBridge:     scope.SourceBridge,
			TargetBridge:     scope.TargetBridge,
			SourceCalendarID: scope.SourceCalendarID,
			TargetCalendarID: scope.TargetCalendarID,
			SourceEventID:    srcID,
			TargetEventID:    "t-" + srcID,
			SyncStatus:       StatusSynced,
			SyncDirection:    DirectionToRemote,
			CreatedAt:        base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.UpsertBridgeMapping(ctx, m); err != nil {
			t.Fatalf("upsert %q: %v", srcID, err)
		}
	}

	// A row in a different scope must not leak in.
	other := &BridgeMapping{
		SourceBridge: "booking", TargetBridge: "other",
		SourceCalendarID: "7", TargetCalendarID: "cal-9",
		SourceEventID: "a", SyncStatus: StatusSynced, SyncDirection: DirectionToRemote,
	}
	if err := s.UpsertBridgeMapping(ctx, other); err != nil {
		t.Fatalf("upsert other scope: %v", err)
	}

	rows, err := s.ListBridgeMappings(ctx, scope)
	if err != nil {
		t.Fatalf("ListBridgeMappings: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("row count = %d, want 3", len(rows))
	}
	if rows[0].SourceEventID != "c" || rows[2].SourceEventID != "a" {
		t.Errorf("ordering = [%s %s %s], want newest first [c b a]",
			rows[0].SourceEventID, rows[1].SourceEventID, rows[2].SourceEventID)
	}
}

// ---------------------------------------------------------------------------
// Resource mappings
// ---------------------------------------------------------------------------

func TestResourceMappings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertResourceMapping(ctx, &ResourceMapping{ResourceID: 7, RemoteCalendarID: "cal-7", Enabled: true}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.UpsertResourceMapping(ctx, &ResourceMapping{ResourceID: 8, RemoteCalendarID: "cal-8", Enabled: false}); err != nil {
		t.Fatalf("upsert disabled: %v", err)
	}

	got, err := s.GetResourceMapping(ctx, 7)
	if err != nil {
		t.Fatalf("GetResourceMapping: %v", err)
	}
	if got == nil || got.RemoteCalendarID != "cal-7" {
		t.Fatalf("binding = %+v, want cal-7", got)
	}

	missing, err := s.GetResourceMapping(ctx, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected (nil, nil) for unknown resource")
	}

	enabled, err := s.ListResourceMappings(ctx)
	if err != nil {
		t.Fatalf("ListResourceMappings: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ResourceID != 7 {
		t.Errorf("enabled bindings = %+v, want only resource 7", enabled)
	}
}
