package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("booking not found")
	ErrSlotTaken              = errors.New("slot is already taken")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrAvailabilityUnknown    = errors.New("availability could not be determined")
	ErrPastSlot               = errors.New("slot is in the past")
	ErrSlotTooFar             = errors.New("slot is beyond the booking horizon")
	ErrValidation             = errors.New("validation failed")
	ErrCatalogNotFound        = errors.New("catalog entry not found")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
