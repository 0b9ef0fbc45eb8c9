package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Extended-property keys attached to every pushed remote event so its
// provenance is recoverable even without the mapping table.
const (
	PropItemType = "booking_item_type"
	PropItemID   = "booking_item_id"
)

// RemoteEvent is the bridge-neutral event payload. Bridges translate it to
// and from their native representation; the sync engine treats it as opaque
// beyond the fields below.
type RemoteEvent struct {
	// ID is the bridge-assigned event identifier. Empty on create.
	ID string `json:"id,omitempty"`

	Subject  string    `json:"subject"`
	Body     string    `json:"body,omitempty"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`

	OrganizerName  string `json:"organizer_name,omitempty"`
	OrganizerEmail string `json:"organizer_email,omitempty"`

	// ShowAs is the free/busy status. The sync engine always pushes "busy".
	ShowAs string `json:"show_as,omitempty"`

	// ReminderOn is false for all pushed events.
	ReminderOn bool `json:"reminder_on"`

	// LastModified is the remote-side modification time, when the bridge
	// reports one.
	LastModified time.Time `json:"last_modified,omitempty"`

	// Extended carries string properties round-tripped through the bridge,
	// including the provenance keys above.
	Extended map[string]string `json:"extended,omitempty"`
}

// ItemProvenance extracts the source reservation identity from the event's
// extended properties. ok is false when the event did not originate from
// this sync engine.
func (e *RemoteEvent) ItemProvenance() (itemType ItemType, itemID int64, ok bool) {
	t, haveType := e.Extended[PropItemType]
	id, haveID := e.Extended[PropItemID]
	if !haveType || !haveID {
		return "", 0, false
	}
	var parsed int64
	if _, err := fmt.Sscanf(id, "%d", &parsed); err != nil {
		return "", 0, false
	}
	return ItemType(t), parsed, true
}

// ContentHash returns a deterministic SHA-256 hex digest of the fields that
// matter for change detection: subject, body, location, and the time slot.
// LastModified and ID are intentionally excluded; they change without the
// content changing.
func (e *RemoteEvent) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(e.Subject))
	h.Write([]byte("|"))
	h.Write([]byte(e.Body))
	h.Write([]byte("|"))
	h.Write([]byte(e.Location))
	h.Write([]byte("|"))
	h.Write([]byte(e.Start.UTC().Format(time.RFC3339)))
	h.Write([]byte("|"))
	h.Write([]byte(e.End.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(h.Sum(nil))
}

// Snapshot returns the serialized form stored in a mapping row's
// event_data column.
func (e *RemoteEvent) Snapshot() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("serializing event snapshot: %w", err)
	}
	return string(b), nil
}

// SnapshotHash parses a stored snapshot and returns its content hash.
func SnapshotHash(snapshot string) (string, error) {
	var ev RemoteEvent
	if err := json.Unmarshal([]byte(snapshot), &ev); err != nil {
		return "", fmt.Errorf("parsing event snapshot: %w", err)
	}
	return ev.ContentHash(), nil
}
