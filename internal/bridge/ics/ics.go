// Package ics implements a file-backed iCalendar bridge. Each calendar is a
// single .ics file in a configured directory; the calendar id is the file
// name without its extension.
//
// It is the reference implementation of the bridge contract and the adapter
// used anywhere a real calendar service is not wired in.
package ics

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"

	"github.com/PorticoEstate/outlookbookingsync/internal/bridge"
	"github.com/PorticoEstate/outlookbookingsync/internal/model"
)

const (
	bridgeType = "ics"
	prodID     = "-//PorticoEstate//outlookbookingsync//EN"

	// extPrefix namespaces extended properties as X- props in the file.
	extPrefix = "X-OBS-"

	propBusyStatus = "X-MICROSOFT-CDO-BUSYSTATUS"
)

// Bridge is the file-backed iCalendar adapter.
type Bridge struct {
	dir string
}

// Factory builds a Bridge from its settings. The single required setting is
// "dir", the directory the calendar files live in.
func Factory(settings map[string]string) (bridge.Bridge, error) {
	dir := settings["dir"]
	if dir == "" {
		return nil, fmt.Errorf("%w: ics bridge requires a \"dir\" setting", bridge.ErrConfiguration)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating calendar directory %q: %v", bridge.ErrConfiguration, dir, err)
	}
	return &Bridge{dir: dir}, nil
}

// Type returns "ics".
func (b *Bridge) Type() string { return bridgeType }

// Capabilities reports full read/write support.
func (b *Bridge) Capabilities() []bridge.Capability {
	return []bridge.Capability{
		bridge.CapReadEvents,
		bridge.CapWriteEvents,
		bridge.CapDeleteEvents,
		bridge.CapListCalendars,
	}
}

// HealthCheck verifies the calendar directory is accessible.
func (b *Bridge) HealthCheck(_ context.Context) bridge.Health {
	if _, err := os.Stat(b.dir); err != nil {
		return bridge.Health{Status: "error", Detail: err.Error()}
	}
	return bridge.Health{Status: "ok"}
}

// Calendars lists every .ics file in the directory.
func (b *Bridge) Calendars(_ context.Context) ([]bridge.Calendar, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("listing calendar directory: %w", err)
	}

	var cals []bridge.Calendar
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ics") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".ics")
		cals = append(cals, bridge.Calendar{ID: id, Name: id})
	}
	return cals, nil
}

// GetEvents returns the events overlapping [start, end].
func (b *Bridge) GetEvents(_ context.Context, calendarID string, start, end time.Time) ([]model.RemoteEvent, error) {
	cal, err := b.load(calendarID)
	if err != nil {
		return nil, err
	}
	if cal == nil {
		return nil, nil
	}

	var events []model.RemoteEvent
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		ev, err := decodeEvent(comp)
		if err != nil {
			return nil, err
		}
		if ev.End.Before(start) || ev.Start.After(end) {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// CreateEvent appends an event with a fresh UID and returns it.
func (b *Bridge) CreateEvent(_ context.Context, calendarID string, ev model.RemoteEvent) (string, error) {
	cal, err := b.load(calendarID)
	if err != nil {
		return "", err
	}
	if cal == nil {
		cal = newCalendar()
	}

	ev.ID = uuid.NewString()
	cal.Children = append(cal.Children, encodeEvent(ev))
	if err := b.save(calendarID, cal); err != nil {
		return "", err
	}
	return ev.ID, nil
}

// UpdateEvent replaces the event with the given UID. It reports false when
// the UID is not present in the calendar.
func (b *Bridge) UpdateEvent(_ context.Context, calendarID, eventID string, ev model.RemoteEvent) (bool, error) {
	cal, err := b.load(calendarID)
	if err != nil {
		return false, err
	}
	if cal == nil {
		return false, nil
	}

	for i, comp := range cal.Children {
		if comp.Name != ical.CompEvent || uid(comp) != eventID {
			continue
		}
		ev.ID = eventID
		cal.Children[i] = encodeEvent(ev)
		if err := b.save(calendarID, cal); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// DeleteEvent removes the event with the given UID. Deleting an absent event
// reports false, not an error.
func (b *Bridge) DeleteEvent(_ context.Context, calendarID, eventID string) (bool, error) {
	cal, err := b.load(calendarID)
	if err != nil {
		return false, err
	}
	if cal == nil {
		return false, nil
	}

	kept := cal.Children[:0]
	removed := false
	for _, comp := range cal.Children {
		if comp.Name == ical.CompEvent && uid(comp) == eventID {
			removed = true
			continue
		}
		kept = append(kept, comp)
	}
	if !removed {
		return false, nil
	}

	cal.Children = kept
	if len(cal.Children) == 0 {
		// An empty VCALENDAR cannot be encoded; drop the file instead.
		if err := os.Remove(b.path(calendarID)); err != nil {
			return false, fmt.Errorf("removing empty calendar %q: %w", calendarID, err)
		}
		return true, nil
	}
	if err := b.save(calendarID, cal); err != nil {
		return false, err
	}
	return true, nil
}

// --- file IO -----------------------------------------------------------------

func (b *Bridge) path(calendarID string) string {
	return filepath.Join(b.dir, calendarID+".ics")
}

// load reads and decodes the calendar file, or (nil, nil) when the calendar
// does not exist yet.
func (b *Bridge) load(calendarID string) (*ical.Calendar, error) {
	f, err := os.Open(b.path(calendarID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening calendar %q: %w", calendarID, err)
	}
	defer f.Close()

	cal, err := ical.NewDecoder(f).Decode()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding calendar %q: %w", calendarID, err)
	}
	return cal, nil
}

// save writes the calendar atomically (temp file + rename).
func (b *Bridge) save(calendarID string, cal *ical.Calendar) error {
	path := b.path(calendarID)
	tmp, err := os.CreateTemp(b.dir, calendarID+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp calendar file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := ical.NewEncoder(tmp).Encode(cal); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding calendar %q: %w", calendarID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp calendar file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing calendar %q: %w", calendarID, err)
	}
	return nil
}

// --- VEVENT codec ------------------------------------------------------------

func newCalendar() *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	return cal
}

func uid(comp *ical.Component) string {
	prop := comp.Props.Get(ical.PropUID)
	if prop == nil {
		return ""
	}
	return prop.Value
}

func encodeEvent(ev model.RemoteEvent) *ical.Component {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, ev.ID)
	event.Props.SetText(ical.PropSummary, ev.Subject)
	if ev.Body != "" {
		event.Props.SetText(ical.PropDescription, ev.Body)
	}
	if ev.Location != "" {
		event.Props.SetText(ical.PropLocation, ev.Location)
	}
	event.Props.SetDateTime(ical.PropDateTimeStart, ev.Start)
	event.Props.SetDateTime(ical.PropDateTimeEnd, ev.End)
	now := time.Now().UTC()
	event.Props.SetDateTime(ical.PropDateTimeStamp, now)
	event.Props.SetDateTime(ical.PropLastModified, now)

	if ev.OrganizerEmail != "" {
		org := ical.NewProp(ical.PropOrganizer)
		org.Value = "mailto:" + ev.OrganizerEmail
		if ev.OrganizerName != "" {
			org.Params.Set(ical.ParamCommonName, ev.OrganizerName)
		}
		event.Props.Set(org)
	}
	if ev.ShowAs != "" {
		event.Props.SetText(propBusyStatus, strings.ToUpper(ev.ShowAs))
	}
	for key, value := range ev.Extended {
		event.Props.SetText(extPrefix+strings.ToUpper(key), value)
	}
	return event.Component
}

func decodeEvent(comp *ical.Component) (model.RemoteEvent, error) {
	ev := model.RemoteEvent{ID: uid(comp)}

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Subject = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Body = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		ev.Location = p.Value
	}
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		ev.OrganizerEmail = strings.TrimPrefix(p.Value, "mailto:")
		ev.OrganizerName = p.Params.Get(ical.ParamCommonName)
	}
	if p := comp.Props.Get(propBusyStatus); p != nil {
		ev.ShowAs = strings.ToLower(p.Value)
	}

	if p := comp.Props.Get(ical.PropDateTimeStart); p != nil {
		t, err := p.DateTime(time.UTC)
		if err != nil {
			return ev, fmt.Errorf("parsing DTSTART of event %q: %w", ev.ID, err)
		}
		ev.Start = t
	}
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		t, err := p.DateTime(time.UTC)
		if err != nil {
			return ev, fmt.Errorf("parsing DTEND of event %q: %w", ev.ID, err)
		}
		ev.End = t
	}
	if p := comp.Props.Get(ical.PropLastModified); p != nil {
		if t, err := p.DateTime(time.UTC); err == nil {
			ev.LastModified = t
		}
	}

	for name, props := range comp.Props {
		if !strings.HasPrefix(name, extPrefix) || len(props) == 0 {
			continue
		}
		if ev.Extended == nil {
			ev.Extended = make(map[string]string)
		}
		key := strings.ToLower(strings.TrimPrefix(name, extPrefix))
		ev.Extended[key] = props[0].Value
	}
	return ev, nil
}
