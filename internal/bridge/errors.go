package bridge

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by [Registry.Get] for an unregistered bridge name.
var ErrNotFound = errors.New("bridge not registered")

// ErrConfiguration is returned by [Registry.Register] when a registration is
// rejected, and by factories when their settings are invalid.
var ErrConfiguration = errors.New("invalid bridge configuration")

// PropagationError wraps a failed remote write so the orchestrator can record
// it against the event that caused it and continue with the batch.
type PropagationError struct {
	Op      string // "create", "update", or "delete"
	Bridge  string
	EventID string
	Err     error
}

func (e *PropagationError) Error() string {
	if e.EventID == "" {
		return fmt.Sprintf("%s on bridge %q failed: %v", e.Op, e.Bridge, e.Err)
	}
	return fmt.Sprintf("%s of event %q on bridge %q failed: %v", e.Op, e.EventID, e.Bridge, e.Err)
}

func (e *PropagationError) Unwrap() error {
	return e.Err
}
