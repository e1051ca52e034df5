package models

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the booking services. Handlers map them to
// HTTP status codes with errors.Is.
var (
	ErrTripNotFound        = errors.New("trip not found")
	ErrTripNotBookable     = errors.New("trip is not accepting bookings")
	ErrHoldNotFound        = errors.New("hold not found")
	ErrHoldExpired         = errors.New("hold has expired")
	ErrHoldClosed          = errors.New("hold is no longer open")
	ErrInvalidHoldToken    = errors.New("invalid hold token")
	ErrSeatUnavailable     = errors.New("one or more seats are no longer available")
	ErrCapacityConflict    = errors.New("not enough seats left on trip")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrForbidden           = errors.New("resource belongs to another driver")
	ErrInvalidSegment      = errors.New("invalid segment")
	ErrAmountMismatch      = errors.New("paid amount does not match hold total")
	ErrPaymentUnverified   = errors.New("payment is not a confirmed checkout of this hold")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrInvalidInput creates a validation error
func ErrInvalidInput(message string) error {
	return &ValidationError{Message: message}
}

// ErrInvalidField creates a validation error bound to a request field
func ErrInvalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// SegmentError explains why a from/to pair is not bookable on a route.
// It matches ErrInvalidSegment and is also a validation failure.
type SegmentError struct {
	From   string
	To     string
	Reason string
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("invalid segment %s -> %s: %s", e.From, e.To, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidSegment) match.
func (e *SegmentError) Is(target error) bool {
	return target == ErrInvalidSegment
}

// IsValidationError reports whether err should be surfaced as a 400.
func IsValidationError(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrInvalidSegment)
}
