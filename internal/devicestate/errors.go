package devicestate

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no device has the requested bus ID.
var ErrNotFound = errors.New("device not found")

// CollaboratorError reports a failed call to the device collaborator.
// The cached snapshot is left unchanged.
type CollaboratorError struct {
	// Op is the collaborator operation: list, bind, unbind, attach or detach
	Op string
	// BusID is the device the operation targeted (empty for list)
	BusID string
	// Underlying error
	Err error
}

func (e *CollaboratorError) Error() string {
	if e.BusID != "" {
		return fmt.Sprintf("device %s failed for %s: %v", e.Op, e.BusID, e.Err)
	}
	return fmt.Sprintf("device %s failed: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// StaleError is returned alongside a snapshot that could not be refreshed.
type StaleError struct {
	// LastRefreshed is when the returned snapshot was taken
	LastRefreshed time.Time
	// Underlying refresh error
	Err error
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("device list is stale (last refreshed %s): %v", e.LastRefreshed.Format(time.RFC3339), e.Err)
}

func (e *StaleError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStale reports whether err is (or wraps) a *StaleError.
func IsStale(err error) bool {
	var staleErr *StaleError
	return errors.As(err, &staleErr)
}

// IsCollaboratorError reports whether err is (or wraps) a *CollaboratorError.
func IsCollaboratorError(err error) bool {
	var collabErr *CollaboratorError
	return errors.As(err, &collabErr)
}
