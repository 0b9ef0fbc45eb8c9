// Package reservation exposes the booking system's three reservation kinds
// (events, bookings, allocations) as a uniform read interface. The mapping
// service fans these queries in to build its unified calendar view instead of
// relying on storage-engine set operations.
package reservation

import (
	"context"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

// Filter narrows a reservation query. Zero values mean "no constraint".
type Filter struct {
	ResourceID int64
	From       time.Time
	To         time.Time
}

// Source provides read access to the booking system's reservations.
// Implemented by [*DB]; tests substitute in-memory fakes.
//
// Each query returns only active reservations matching the filter, already
// shaped as [model.CalendarItem] with the priority for its kind.
type Source interface {
	Events(ctx context.Context, f Filter) ([]model.CalendarItem, error)
	Bookings(ctx context.Context, f Filter) ([]model.CalendarItem, error)
	Allocations(ctx context.Context, f Filter) ([]model.CalendarItem, error)

	// Exists reports whether the reservation is present and active in the
	// given kind. Orphan cleanup checks all three kinds before deleting a
	// mapping row.
	Exists(ctx context.Context, t model.ItemType, id int64) (bool, error)
}
