package sync

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

// mockBridge is an in-memory Bridge with per-event failure injection.
// calendars maps calendar id → event id → event.
type mockBridge struct {
	name      string
	calendars map[string]map[string]model.RemoteEvent

	// failCreate holds source event ids whose create must fail.
	failCreate map[string]bool
	// failUpdate holds target event ids whose update must fail.
	failUpdate map[string]bool
	// failDelete holds target event ids whose delete must fail.
	failDelete map[string]bool

	createCalls atomic.Int64
	updateCalls atomic.Int64
	deleteCalls atomic.Int64

	nextID int
}

func newMockBridge(name string) *mockBridge {
	return &mockBridge{
		name:       name,
		calendars:  map[string]map[string]model.RemoteEvent{},
		failCreate: map[string]bool{},
		failUpdate: map[string]bool{},
		failDelete: map[string]bool{},
	}
}

func (m *mockBridge) put(calendarID string, ev model.RemoteEvent) {
	cal, ok := m.calendars[calendarID]
	if !ok {
		cal = map[string]model.RemoteEvent{}
		m.calendars[calendarID] = cal
	}
	cal[ev.ID] = ev
}

func (m *mockBridge) Type() string { return "mock" }

func (m *mockBridge) Capabilities() []bridge.Capability {
	return []bridge.Capability{bridge.CapReadEvents, bridge.CapWriteEvents, bridge.CapDeleteEvents, bridge.CapListCalendars}
}

func (m *mockBridge) HealthCheck(ctx context.Context) bridge.Health {
	return bridge.Health{Status: "ok"}
}

func (m *mockBridge) Calendars(ctx context.Context) ([]bridge.Calendar, error) {
	var cals []bridge.Calendar
	for id := range m.calendars {
		cals = append(cals, bridge.Calendar{ID: id, Name: id})
	}
	return cals, nil
}

func (m *mockBridge) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.RemoteEvent, error) {
	var events []model.RemoteEvent
	for _, ev := range m.calendars[calendarID] {
		if !start.IsZero() && ev.End.Before(start) {
			continue
		}
		if !end.IsZero() && ev.Start.After(end) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (m *mockBridge) CreateEvent(ctx context.Context, calendarID string, ev model.RemoteEvent) (string, error) {
	m.createCalls.Add(1)
	if m.failCreate[ev.Subject] {
		return "", fmt.Errorf("mock create failure for %q", ev.Subject)
	}
	m.nextID++
	ev.ID = fmt.Sprintf("%s-ev-%d", m.name, m.nextID)
	m.put(calendarID, ev)
	return ev.ID, nil
}

func (m *mockBridge) UpdateEvent(ctx context.Context, calendarID, eventID string, ev model.RemoteEvent) (bool, error) {
	m.updateCalls.Add(1)
	if m.failUpdate[eventID] {
		return false, fmt.Errorf("mock update failure for %q", eventID)
	}
	cal := m.calendars[calendarID]
	if _, ok := cal[eventID]; !ok {
		return false, nil
	}
	ev.ID = eventID
	cal[eventID] = ev
	return true, nil
}

func (m *mockBridge) DeleteEvent(ctx context.Context, calendarID, eventID string) (bool, error) {
	m.deleteCalls.Add(1)
	if m.failDelete[eventID] {
		return false, fmt.Errorf("mock delete failure for %q", eventID)
	}
	cal := m.calendars[calendarID]
	if _, ok := cal[eventID]; !ok {
		return false, nil
	}
	delete(cal, eventID)
	return true, nil
}
