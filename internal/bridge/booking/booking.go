// Package booking exposes the booking system's unified reservation view as a
// read-only bridge. Calendar ids are resource ids; the event list for a
// calendar is the conflict-resolved prioritized timeline of that resource.
//
// The booking system owns its reservations, so the write half of the bridge
// contract is deliberately unsupported: propagation into the booking system
// happens through the mapping service's import path, not through event CRUD.
package booking

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/mapping"
	"github.com/PorticoEstate/outlookbookingsync/internal/model"
	"github.com/PorticoEstate/outlookbookingsync/internal/reservation"
)

const bridgeType = "booking"

// errReadOnly is returned by every write operation.
var errReadOnly = fmt.Errorf("booking bridge is read-only")

// Bridge adapts the mapping service's unified view to the bridge contract.
type Bridge struct {
	service *mapping.Service
}

// New creates the booking bridge over the given mapping service. Unlike the
// other bridges it is constructed directly rather than from string settings,
// because it shares the already-wired service; Register wraps it in a
// factory for the registry.
func New(service *mapping.Service) *Bridge {
	return &Bridge{service: service}
}

// Register installs the bridge in the registry under the given name.
func Register(registry *bridge.Registry, name string, service *mapping.Service) error {
	b := New(service)
	return registry.Register(name, func(map[string]string) (bridge.Bridge, error) {
		return b, nil
	}, nil)
}

// Type returns "booking".
func (b *Bridge) Type() string { return bridgeType }

// Capabilities reports read-only support.
func (b *Bridge) Capabilities() []bridge.Capability {
	return []bridge.Capability{bridge.CapReadEvents, bridge.CapListCalendars}
}

// HealthCheck probes the booking database through a minimal query.
func (b *Bridge) HealthCheck(ctx context.Context) bridge.Health {
	if _, err := b.service.UnifyCalendarItems(ctx, reservation.Filter{
		From: time.Now(),
		To:   time.Now().Add(time.Hour),
	}); err != nil {
		return bridge.Health{Status: "error", Detail: err.Error()}
	}
	return bridge.Health{Status: "ok"}
}

// Calendars lists one calendar per sync-enabled resource.
func (b *Bridge) Calendars(ctx context.Context) ([]bridge.Calendar, error) {
	bindings, err := b.service.ResourceBindings(ctx)
	if err != nil {
		return nil, err
	}
	cals := make([]bridge.Calendar, 0, len(bindings))
	for _, rm := range bindings {
		id := strconv.FormatInt(rm.ResourceID, 10)
		cals = append(cals, bridge.Calendar{ID: id, Name: "resource " + id})
	}
	return cals, nil
}

// GetEvents returns the resource's conflict-resolved timeline rendered as
// remote events. The event id is the provenance pair "type/id", which is
// stable across passes.
func (b *Bridge) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.RemoteEvent, error) {
	resourceID, err := strconv.ParseInt(calendarID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("calendar id %q is not a resource id: %w", calendarID, err)
	}

	items, err := b.service.UnifyCalendarItems(ctx, reservation.Filter{
		ResourceID: resourceID,
		From:       start,
		To:         end,
	})
	if err != nil {
		return nil, err
	}
	items = b.service.ResolveTimeConflicts(items)

	events := make([]model.RemoteEvent, 0, len(items))
	for _, it := range items {
		ev := b.service.ToRemoteEvent(it)
		ev.ID = fmt.Sprintf("%s/%d", it.Type, it.ID)
		events = append(events, ev)
	}
	return events, nil
}

// CreateEvent is unsupported.
func (b *Bridge) CreateEvent(context.Context, string, model.RemoteEvent) (string, error) {
	return "", errReadOnly
}

// UpdateEvent is unsupported.
func (b *Bridge) UpdateEvent(context.Context, string, string, model.RemoteEvent) (bool, error) {
	return false, errReadOnly
}

// DeleteEvent is unsupported.
func (b *Bridge) DeleteEvent(context.Context, string, string) (bool, error) {
	return false, errReadOnly
}
