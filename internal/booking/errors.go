package booking

import (
	"errors"
	"fmt"

	"github.com/example/fleetshare/internal/persistence"
)

var (
	// ErrNotFound is returned when the referenced reservation does not exist.
	ErrNotFound = errors.New("booking: reservation not found")
	// ErrUnauthorized is returned when the acting user may not touch the reservation.
	ErrUnauthorized = errors.New("booking: unauthorized")
)

// ValidationError captures field level validation issues that callers can
// surface to users. Validation failures are never retried.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// Add records a field level validation error.
func (v *ValidationError) Add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ConflictError reports the committed intervals that block a candidate so the
// caller can present them. Conflicts are never auto-resolved.
type ConflictError struct {
	Conflicts []persistence.Interval
}

// Error implements the error interface.
func (c *ConflictError) Error() string {
	return fmt.Sprintf("booking: %d conflicting reservation(s)", len(c.Conflicts))
}
