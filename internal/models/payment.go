package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the status of a card payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Payment links a card-processor payment to a hold and, once converted, a reservation
type Payment struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	ReservationID      *uuid.UUID    `json:"reservation_id,omitempty" db:"reservation_id"`
	TempBookingID      *uuid.UUID    `json:"temp_booking_id,omitempty" db:"temp_booking_id"`
	ProcessorPaymentID string        `json:"processor_payment_id" db:"processor_payment_id"`
	Amount             float64       `json:"amount" db:"amount"`
	Currency           string        `json:"currency" db:"currency"`
	Status             PaymentStatus `json:"status" db:"status"`
	StatusIndicator    *string       `json:"-" db:"status_indicator"`
	PaidAt             *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}
