package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	phonevalidator "github.com/intercity/booking-backend/pkg/validator"
)

// passengerPhones accepts international numbers only
var passengerPhones = phonevalidator.NewPhoneValidator("")

// TempBookingStatus represents the lifecycle of a hold
type TempBookingStatus string

const (
	TempBookingStatusPending    TempBookingStatus = "pending"    // Created, awaiting payment initiation
	TempBookingStatusProcessing TempBookingStatus = "processing" // Payment initiated with the card processor
	TempBookingStatusCompleted  TempBookingStatus = "completed"  // Converted into a reservation
	TempBookingStatusExpired    TempBookingStatus = "expired"    // Timed out or abandoned
)

// IsOpen reports whether the hold may still be paid or converted
func (s TempBookingStatus) IsOpen() bool {
	return s == TempBookingStatusPending || s == TempBookingStatusProcessing
}

// PassengerInfo is the contact snapshot captured at checkout
type PassengerInfo struct {
	Name  string `json:"name" db:"passenger_name" validate:"required,max=120"`
	Email string `json:"email" db:"passenger_email" validate:"required,email"`
	Phone string `json:"phone" db:"passenger_phone" validate:"required"`
}

// TempBooking is a time-boxed pre-payment hold. It never consumes seat
// capacity; seats are committed only when the hold is converted.
type TempBooking struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	TripID           uuid.UUID         `json:"trip_id" db:"trip_id"`
	PassengerID      *uuid.UUID        `json:"passenger_id,omitempty" db:"passenger_id"`
	PickupStationID  uuid.UUID         `json:"pickup_station_id" db:"pickup_station_id"`
	DropoffStationID uuid.UUID         `json:"dropoff_station_id" db:"dropoff_station_id"`
	Seats            SeatList          `json:"seats" db:"seats"`
	NumberOfBags     int               `json:"number_of_bags" db:"number_of_bags"`
	SegmentPrice     float64           `json:"segment_price" db:"segment_price"`
	LuggageFee       float64           `json:"luggage_fee" db:"luggage_fee"`
	TotalPrice       float64           `json:"total_price" db:"total_price"`
	Currency         string            `json:"currency" db:"currency"`
	BookingReference *string           `json:"booking_reference,omitempty" db:"booking_reference"`
	PaymentIntentID  *string           `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	Status           TempBookingStatus `json:"status" db:"status"`
	ExpiresAt        time.Time         `json:"expires_at" db:"expires_at"`
	IdempotencyKey   *string           `json:"-" db:"idempotency_key"`
	HoldTokenHash    string            `json:"-" db:"hold_token_hash"`
	ClientPlatform   *string           `json:"client_platform,omitempty" db:"client_platform"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`

	PassengerInfo
}

// IsExpired checks if the hold window has lapsed
func (tb *TempBooking) IsExpired(now time.Time) bool {
	return !now.Before(tb.ExpiresAt)
}

// SeatCount returns the number of seats the hold asks for
func (tb *TempBooking) SeatCount() int {
	return len(tb.Seats)
}

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// CreateHoldRequest starts checkout for a trip segment
type CreateHoldRequest struct {
	TripID           uuid.UUID     `json:"trip_id" binding:"required" validate:"required"`
	PickupStationID  uuid.UUID     `json:"pickup_station_id" binding:"required" validate:"required"`
	DropoffStationID uuid.UUID     `json:"dropoff_station_id" binding:"required" validate:"required"`
	Seats            []string      `json:"seats" binding:"required" validate:"required,min=1,max=20,unique,dive,required,max=8"`
	NumberOfBags     int           `json:"number_of_bags" validate:"gte=0"`
	Passenger        PassengerInfo `json:"passenger" binding:"required"`

	// Set by the handler, not the client
	PassengerID    *uuid.UUID `json:"-"`
	IdempotencyKey *string    `json:"-"`
	ClientPlatform *string    `json:"-"`
}

// Validate validates the hold request
func (r *CreateHoldRequest) Validate() error {
	for i, seat := range r.Seats {
		r.Seats[i] = strings.ToUpper(strings.TrimSpace(seat))
	}
	r.Passenger.Name = strings.TrimSpace(r.Passenger.Name)
	r.Passenger.Email = strings.TrimSpace(strings.ToLower(r.Passenger.Email))
	if err := validateStruct(r); err != nil {
		return err
	}
	phone, err := passengerPhones.Validate(r.Passenger.Phone)
	if err != nil {
		return ErrInvalidField("phone", err.Error())
	}
	r.Passenger.Phone = phone
	if r.PickupStationID == r.DropoffStationID {
		return ErrInvalidField("dropoff_station_id", "must differ from pickup_station_id")
	}
	return nil
}

// HoldResponse is returned once a hold is created. HoldToken is only
// present on creation; it authorises later reads and abandonment.
type HoldResponse struct {
	HoldID       uuid.UUID         `json:"hold_id"`
	HoldToken    string            `json:"hold_token,omitempty"`
	TripID       uuid.UUID         `json:"trip_id"`
	Seats        []string          `json:"seats"`
	NumberOfBags int               `json:"number_of_bags"`
	SegmentPrice float64           `json:"segment_price"`
	LuggageFee   float64           `json:"luggage_fee"`
	TotalPrice   float64           `json:"total_price"`
	Currency     string            `json:"currency"`
	Status       TempBookingStatus `json:"status"`
	ExpiresAt    time.Time         `json:"expires_at"`
	PriceSource  PriceSource       `json:"price_source,omitempty"`

	// Set once the hold has been converted
	BookingReference *string `json:"booking_reference,omitempty"`
}

// PaymentSessionResponse is returned when checkout is handed to the card processor
type PaymentSessionResponse struct {
	HoldID          uuid.UUID `json:"hold_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	PaymentURL      string    `json:"payment_url"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	ExpiresAt       time.Time `json:"expires_at"`
}
