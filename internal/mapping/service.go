// Package mapping implements the reconciliation service that unifies the
// booking system's three reservation kinds into one prioritized calendar
// view, resolves time-slot conflicts, and keeps the mapping table consistent
// as the single source of truth across repeated sync runs.
package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PorticoEstate/outlookbookingsync/internal/model"
	"github.com/PorticoEstate/outlookbookingsync/internal/reservation"
	"github.com/PorticoEstate/outlookbookingsync/internal/store"
)

const (
	// defaultTitleMaxLength bounds event subjects pushed to remote calendars.
	defaultTitleMaxLength = 255

	// placeholderTitle replaces an empty reservation title.
	placeholderTitle = "Reserved"
)

// Options configure the pure item→event rendering.
type Options struct {
	// Location is the fixed time zone remote event times are expressed in.
	// Defaults to UTC.
	Location *time.Location

	// FallbackOrganizerEmail is used when a reservation has no contact email.
	FallbackOrganizerEmail string

	// TitleMaxLength bounds the rendered subject. Defaults to 255.
	TitleMaxLength int
}

// Service is the mapping and reconciliation service. It is stateless between
// calls: all persistent state lives in the [store.Store], and the unified
// view is recomputed from the [reservation.Source] on every call.
type Service struct {
	source reservation.Source
	store  *store.Store
	opts   Options
	log    *slog.Logger
}

// NewService creates a Service wired to the booking source and mapping store.
func NewService(source reservation.Source, st *store.Store, opts Options, logger *slog.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.TitleMaxLength <= 0 {
		opts.TitleMaxLength = defaultTitleMaxLength
	}
	return &Service{source: source, store: st, opts: opts, log: logger}
}

// UnifyCalendarItems merges the three reservation kinds into one sequence
// filtered to active items and the given resource/date window, each tagged
// with its priority level. The result is ordered by start time, then
// priority, then kind and id for determinism. Nothing is cached: each call
// reflects the source system's current state.
func (s *Service) UnifyCalendarItems(ctx context.Context, f reservation.Filter) ([]model.CalendarItem, error) {
	events, err := s.source.Events(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}
	bookings, err := s.source.Bookings(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetching bookings: %w", err)
	}
	allocations, err := s.source.Allocations(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("fetching allocations: %w", err)
	}

	items := make([]model.CalendarItem, 0, len(events)+len(bookings)+len(allocations))
	for _, batch := range [][]model.CalendarItem{events, bookings, allocations} {
		for _, it := range batch {
			if !it.Active {
				continue
			}
			items = append(items, it)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})
	return items, nil
}

// ResolveTimeConflicts groups items by exact (resource, start, end) slot and,
// within each group, keeps the single item with the numerically lowest
// priority level (first encountered wins a tie). Discarded items are logged.
// Groups of one pass through unchanged.
//
// Only exact-slot collisions count as conflicts; partially overlapping slots
// are deliberately left alone.
func (s *Service) ResolveTimeConflicts(items []model.CalendarItem) []model.CalendarItem {
	winners := make(map[string]int, len(items)) // slot key → index into resolved
	resolved := make([]model.CalendarItem, 0, len(items))

	for _, it := range items {
		key := it.SlotKey()
		idx, seen := winners[key]
		if !seen {
			winners[key] = len(resolved)
			resolved = append(resolved, it)
			continue
		}

		current := resolved[idx]
		if it.Priority < current.Priority {
			s.log.Info("time slot conflict resolved",
				"resource_id", it.ResourceID,
				"start", it.Start,
				"kept", fmt.Sprintf("%s/%d", it.Type, it.ID),
				"discarded", fmt.Sprintf("%s/%d", current.Type, current.ID),
			)
			resolved[idx] = it
		} else {
			s.log.Info("time slot conflict resolved",
				"resource_id", it.ResourceID,
				"start", it.Start,
				"kept", fmt.Sprintf("%s/%d", current.Type, current.ID),
				"discarded", fmt.Sprintf("%s/%d", it.Type, it.ID),
			)
		}
	}
	return resolved
}

// ToRemoteEvent renders a calendar item as the bridge-neutral event payload.
// The transformation is pure: trimmed and bounded title (placeholder when
// empty), times in the configured zone, description defaulting to the title,
// organizer falling back to the configured address, busy visibility,
// reminders off, and provenance extended properties.
func (s *Service) ToRemoteEvent(it model.CalendarItem) model.RemoteEvent {
	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = placeholderTitle
	}
	if utf8.RuneCountInString(title) > s.opts.TitleMaxLength {
		// Truncate on rune boundaries so multi-byte titles stay valid UTF-8.
		title = string([]rune(title)[:s.opts.TitleMaxLength])
	}

	body := strings.TrimSpace(it.Description)
	if body == "" {
		body = title
	}

	email := strings.TrimSpace(it.OrganizerEmail)
	if email == "" {
		email = s.opts.FallbackOrganizerEmail
	}

	return model.RemoteEvent{
		Subject:        title,
		Body:           body,
		Start:          it.Start.In(s.opts.Location),
		End:            it.End.In(s.opts.Location),
		OrganizerName:  strings.TrimSpace(it.OrganizerName),
		OrganizerEmail: email,
		ShowAs:         "busy",
		ReminderOn:     false,
		Extended: map[string]string{
			model.PropItemType: it.Type.String(),
			model.PropItemID:   strconv.FormatInt(it.ID, 10),
		},
	}
}
