// collector/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the collector. Handlers map these onto HTTP statuses;
// everything else wraps with fmt.Errorf("...: %w", err) so the sentinels
// survive through the store layers.

// ErrValidation is returned when an inbound event payload is missing a
// required field or carries an empty one. Client-caused, never retried.
var ErrValidation = errors.New("invalid event payload")

// ErrPersistence is returned when the storage layer fails an aggregate or
// registration write. Infrastructure-caused; the tracker may retry.
var ErrPersistence = errors.New("persistence failure")

// ErrSessionNotFound is returned for a session_end event that does not match
// any live aggregate.
var ErrSessionNotFound = errors.New("session not found")

// ErrDuplicateSite is kept for callers that need reject semantics on
// registration. The HTTP surface upserts and never returns it.
var ErrDuplicateSite = errors.New("site already registered")

// FieldError reports which required envelope field failed validation.
type FieldError struct {
	Field string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("missing or empty required field %q", e.Field)
}

func (e FieldError) Unwrap() error { return ErrValidation }

// NotificationError wraps a per-site report delivery failure so the batch
// runner can log and continue.
type NotificationError struct {
	SiteID string
	Err    error
}

func (e NotificationError) Error() string {
	return fmt.Sprintf("failed to notify site %s: %v", e.SiteID, e.Err)
}

func (e NotificationError) Unwrap() error { return e.Err }
