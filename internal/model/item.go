// Package model defines shared types used across the sync orchestrator,
// mapping service, and bridge adapters.
package model

import (
	"fmt"
	"time"
)

// ItemType identifies the kind of source reservation a calendar item
// was derived from.
type ItemType string

const (
	// ItemTypeEvent is a directly booked event (highest priority).
	ItemTypeEvent ItemType = "event"
	// ItemTypeBooking is a recurring-group booking.
	ItemTypeBooking ItemType = "booking"
	// ItemTypeAllocation is a season allocation (lowest priority).
	ItemTypeAllocation ItemType = "allocation"
)

const (
	// PriorityEvent is the priority level of directly booked events.
	PriorityEvent = 1
	// PriorityBooking is the priority level of recurring bookings.
	PriorityBooking = 2
	// PriorityAllocation is the priority level of season allocations.
	PriorityAllocation = 3
)

// PriorityFor returns the priority level for an item type. Lower is more
// important. Unrecognised types rank lowest.
func PriorityFor(t ItemType) int {
	switch t {
	case ItemTypeEvent:
		return PriorityEvent
	case ItemTypeBooking:
		return PriorityBooking
	case ItemTypeAllocation:
		return PriorityAllocation
	default:
		return PriorityAllocation
	}
}

// String returns the wire name of the item type.
func (t ItemType) String() string {
	return string(t)
}

// CalendarItem is the unified view of one reservation-like entity from the
// booking system, built fresh on every sync or query pass. It is never
// persisted; the mapping table references it by (Type, ID, ResourceID).
type CalendarItem struct {
	// Type is the reservation kind this item was derived from.
	Type ItemType

	// ID is the reservation's identifier within its kind.
	ID int64

	// Priority is the deterministic rank for Type. Lower wins a slot.
	Priority int

	// ResourceID is the resource (room, hall, field) the item occupies.
	ResourceID int64

	// Start and End bound the occupied time slot.
	Start time.Time
	End   time.Time

	// Title is the reservation's display name.
	Title string

	// OrganizerName and OrganizerEmail identify the responsible contact.
	// Either may be empty.
	OrganizerName  string
	OrganizerEmail string

	// Description is the reservation's body text. May be empty.
	Description string

	// Active reports whether the reservation is live in the source system.
	Active bool
}

// SlotKey returns the exact-slot collision key used by conflict resolution:
// two items conflict only when resource, start, and end all match exactly.
// Partially overlapping slots are intentionally not treated as conflicts.
func (c *CalendarItem) SlotKey() string {
	return fmt.Sprintf("%d|%d|%d", c.ResourceID, c.Start.UTC().Unix(), c.End.UTC().Unix())
}
