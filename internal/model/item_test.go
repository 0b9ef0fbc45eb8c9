package model

import (
	"testing"
	"time"
)

func TestPriorityFor(t *testing.T) {
	tests := []struct {
		name string
		t    ItemType
		want int
	}{
		{"event is highest", ItemTypeEvent, 1},
		{"booking is middle", ItemTypeBooking, 2},
		{"allocation is lowest", ItemTypeAllocation, 3},
		{"unknown defaults to lowest", ItemType("banquet"), 3},
		{"empty defaults to lowest", ItemType(""), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityFor(tt.t); got != tt.want {
				t.Errorf("PriorityFor(%q) = %d, want %d", tt.t, got, tt.want)
			}
		})
	}
}

func TestSlotKey_ExactMatchOnly(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	a := CalendarItem{Type: ItemTypeEvent, ID: 1, ResourceID: 7, Start: start, End: end}
	b := CalendarItem{Type: ItemTypeBooking, ID: 2, ResourceID: 7, Start: start, End: end}
	if a.SlotKey() != b.SlotKey() {
		t.Error("items with identical resource and times should share a slot key")
	}

	// Same resource, overlapping but not identical slot → different key.
	c := CalendarItem{Type: ItemTypeBooking, ID: 3, ResourceID: 7, Start: start.Add(30 * time.Minute), End: end}
	if a.SlotKey() == c.SlotKey() {
		t.Error("partially overlapping slots must not share a key")
	}

	// Different resource, same times → different key.
	d := CalendarItem{Type: ItemTypeEvent, ID: 4, ResourceID: 8, Start: start, End: end}
	if a.SlotKey() == d.SlotKey() {
		t.Error("different resources must not share a key")
	}
}

func TestSlotKey_ZoneInsensitive(t *testing.T) {
	oslo, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Skipf("zone database unavailable: %v", err)
	}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	a := CalendarItem{ResourceID: 7, Start: start, End: end}
	b := CalendarItem{ResourceID: 7, Start: start.In(oslo), End: end.In(oslo)}
	if a.SlotKey() != b.SlotKey() {
		t.Error("the same instant in different zones should share a slot key")
	}
}

func TestContentHash_IgnoresIDAndModified(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := RemoteEvent{ID: "one", Subject: "Training", Start: start, End: start.Add(time.Hour), LastModified: start}
	b := RemoteEvent{ID: "two", Subject: "Training", Start: start, End: start.Add(time.Hour), LastModified: start.Add(time.Minute)}

	if a.ContentHash() != b.ContentHash() {
		t.Error("hash should not depend on id or modification time")
	}

	b.Subject = "Training (moved)"
	if a.ContentHash() == b.ContentHash() {
		t.Error("hash should change when the subject changes")
	}
}

func TestSnapshotHash_RoundTrip(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ev := RemoteEvent{Subject: "Match", Body: "finals", Start: start, End: start.Add(2 * time.Hour)}

	snapshot, err := ev.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got, err := SnapshotHash(snapshot)
	if err != nil {
		t.Fatalf("SnapshotHash: %v", err)
	}
	if got != ev.ContentHash() {
		t.Error("snapshot hash should equal the event's content hash")
	}

	if _, err := SnapshotHash("{not json"); err == nil {
		t.Error("expected error for malformed snapshot")
	}
}

func TestItemProvenance(t *testing.T) {
	ev := RemoteEvent{Extended: map[string]string{
		PropItemType: "booking",
		PropItemID:   "42",
	}}
	typ, id, ok := ev.ItemProvenance()
	if !ok {
		t.Fatal("expected provenance to be present")
	}
	if typ != ItemTypeBooking || id != 42 {
		t.Errorf("provenance = %s/%d, want booking/42", typ, id)
	}

	foreign := RemoteEvent{Extended: map[string]string{"color": "red"}}
	if _, _, ok := foreign.ItemProvenance(); ok {
		t.Error("foreign event should have no provenance")
	}

	garbled := RemoteEvent{Extended: map[string]string{PropItemType: "event", PropItemID: "x"}}
	if _, _, ok := garbled.ItemProvenance(); ok {
		t.Error("non-numeric item id should have no provenance")
	}
}
