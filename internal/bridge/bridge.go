// Package bridge defines the capability contract every calendar adapter
// implements, and a registry that lazily instantiates named bridges from
// configuration.
//
// A bridge exposes one calendar system's events through uniform CRUD,
// calendar discovery, and health introspection. The sync orchestrator only
// ever talks to this contract; the concrete adapters live in subpackages.
package bridge

import (
	"context"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

// Capability tags a bridge's supported operations.
type Capability string

const (
	CapReadEvents    Capability = "read_events"
	CapWriteEvents   Capability = "write_events"
	CapDeleteEvents  Capability = "delete_events"
	CapListCalendars Capability = "list_calendars"
)

// Health describes the outcome of a bridge health probe.
type Health struct {
	Status string `json:"status"` // "ok" or "error"
	Detail string `json:"detail,omitempty"`
}

// Calendar identifies one calendar exposed by a bridge.
type Calendar struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bridge is the capability contract consumed by the sync orchestrator.
// Implementations must be safe for sequential reuse; concurrent use by
// multiple callers is only supported where the concrete adapter says so.
type Bridge interface {
	// Type returns the bridge kind, e.g. "ics" or "booking".
	Type() string

	// Capabilities returns the operations this bridge supports.
	Capabilities() []Capability

	// HealthCheck probes the underlying system.
	HealthCheck(ctx context.Context) Health

	// Calendars lists the calendars available for sync.
	Calendars(ctx context.Context) ([]Calendar, error)

	// GetEvents returns the events in [start, end] on the given calendar.
	GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.RemoteEvent, error)

	// CreateEvent creates an event and returns its bridge-assigned id.
	CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error)

	// UpdateEvent replaces the event's content. It reports false when the
	// bridge declined the update without a transport error.
	UpdateEvent(ctx context.Context, calendarID, eventID string, ev model.RemoteEvent) (bool, error)

	// DeleteEvent removes the event. Deleting an already-absent event
	// reports false, not an error.
	DeleteEvent(ctx context.Context, calendarID, eventID string) (bool, error)
}

// Has reports whether caps contains c.
func Has(caps []Capability, c Capability) bool {
	for _, got := range caps {
		if got == c {
			return true
		}
	}
	return false
}
