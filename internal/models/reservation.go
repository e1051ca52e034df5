package models

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus represents the status of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "pending"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCompleted ReservationStatus = "completed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Reservation is a paid booking that has consumed seat capacity
type Reservation struct {
	ID               uuid.UUID         `json:"id" db:"id"`
	TripID           uuid.UUID         `json:"trip_id" db:"trip_id"`
	PassengerID      *uuid.UUID        `json:"passenger_id,omitempty" db:"passenger_id"`
	PickupStationID  uuid.UUID         `json:"pickup_station_id" db:"pickup_station_id"`
	DropoffStationID uuid.UUID         `json:"dropoff_station_id" db:"dropoff_station_id"`
	SeatCount        int               `json:"seat_count" db:"seat_count"`
	NumberOfBags     int               `json:"number_of_bags" db:"number_of_bags"`
	SegmentPrice     float64           `json:"segment_price" db:"segment_price"`
	LuggageFee       float64           `json:"luggage_fee" db:"luggage_fee"`
	TotalPrice       float64           `json:"total_price" db:"total_price"`
	Currency         string            `json:"currency" db:"currency"`
	BookingReference string            `json:"booking_reference" db:"booking_reference"`
	Status           ReservationStatus `json:"status" db:"status"`
	TempBookingID    *uuid.UUID        `json:"temp_booking_id,omitempty" db:"temp_booking_id"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`

	PassengerInfo

	Seats []string `json:"seats,omitempty" db:"-"`
}

// CanBeCancelled reports whether the reservation may still be cancelled
func (r *Reservation) CanBeCancelled() bool {
	return r.Status == ReservationStatusConfirmed || r.Status == ReservationStatusPending
}

// BookedSeat is one physical seat consumed by a reservation
type BookedSeat struct {
	ReservationID uuid.UUID `json:"reservation_id" db:"reservation_id"`
	TripID        uuid.UUID `json:"trip_id" db:"trip_id"`
	SeatNumber    string    `json:"seat_number" db:"seat_number"`
}

// ConversionOutcome describes how a conversion request was resolved
type ConversionOutcome string

const (
	ConversionCreated          ConversionOutcome = "created"           // Reservation created now
	ConversionAlreadyConverted ConversionOutcome = "already_converted" // Duplicate delivery, existing reservation returned
	ConversionHoldNotFound     ConversionOutcome = "not_found"         // Hold already cleaned up, nothing to do
)

// ConversionResult is returned by hold conversion
type ConversionResult struct {
	Outcome          ConversionOutcome `json:"outcome"`
	ReservationID    uuid.UUID         `json:"reservation_id"`
	BookingReference string            `json:"booking_reference,omitempty"`
}

// ReservationDetails is a reservation joined with its trip for display
type ReservationDetails struct {
	Reservation
	DepartureTime      time.Time  `json:"departure_time" db:"departure_time"`
	ArrivalTime        *time.Time `json:"arrival_time,omitempty" db:"arrival_time"`
	RouteName          string     `json:"route_name" db:"route_name"`
	PickupStationName  string     `json:"pickup_station_name" db:"pickup_station_name"`
	PickupCity         string     `json:"pickup_city" db:"pickup_city"`
	DropoffStationName string     `json:"dropoff_station_name" db:"dropoff_station_name"`
	DropoffCity        string     `json:"dropoff_city" db:"dropoff_city"`
	DriverName         string     `json:"driver_name" db:"driver_name"`
	VehiclePlate       string     `json:"vehicle_plate" db:"vehicle_plate"`
}
