package outbox

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable marks a send that may succeed later: transport failure,
	// 5xx, 408 or 429. The mutation is rescheduled.
	ErrUnreachable = errors.New("backend unreachable")

	ErrInvalidMutation = errors.New("invalid mutation")
	ErrNotInitialized  = errors.New("outbox not initialized")

	// -- Storage --
	ErrFailedEnqueue = errors.New("failed to enqueue mutation")
	ErrFailedList    = errors.New("failed to list mutations")
	ErrFailedUpdate  = errors.New("failed to update mutation")
	ErrFailedDelete  = errors.New("failed to delete mutation")
	ErrFailedCount   = errors.New("failed to count mutations")
)

// RejectionError is the backend refusing a payload. Retrying the same payload
// cannot succeed, so the mutation is parked as failed right away.
type RejectionError struct {
	StatusCode int
	Reason     string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("backend rejected mutation: status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend rejected mutation: status %d: %s", e.StatusCode, e.Reason)
}

func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}
