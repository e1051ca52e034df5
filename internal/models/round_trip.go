package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// MaxRoundTripDiscountRate caps the discount a driver may attach to a link
const MaxRoundTripDiscountRate = 0.5

// RoundTripLink is a driver-curated outbound/return pairing. Return trips
// are never inferred from inverse routes.
type RoundTripLink struct {
	ID             uuid.UUID `json:"id" db:"id"`
	DriverID       uuid.UUID `json:"driver_id" db:"driver_id"`
	OutboundTripID uuid.UUID `json:"outbound_trip_id" db:"outbound_trip_id"`
	ReturnTripID   uuid.UUID `json:"return_trip_id" db:"return_trip_id"`
	DiscountRate   float64   `json:"discount_rate" db:"discount_rate"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// CreateRoundTripLinkRequest configures a link. DiscountPercent is 0-50.
type CreateRoundTripLinkRequest struct {
	OutboundTripID  uuid.UUID `json:"outbound_trip_id" binding:"required" validate:"required"`
	ReturnTripID    uuid.UUID `json:"return_trip_id" binding:"required" validate:"required"`
	DiscountPercent float64   `json:"discount_percent"`
}

// Validate validates the link request and returns the discount as a fraction
func (r *CreateRoundTripLinkRequest) Validate() (float64, error) {
	if err := validateStruct(r); err != nil {
		return 0, err
	}
	if r.OutboundTripID == r.ReturnTripID {
		return 0, ErrInvalidField("return_trip_id", "must differ from outbound_trip_id")
	}
	rate, err := DiscountRateFromPercent(r.DiscountPercent)
	if err != nil {
		return 0, err
	}
	return rate, nil
}

// DiscountRateFromPercent converts a percentage into a rate in [0, 0.5]
func DiscountRateFromPercent(percent float64) (float64, error) {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return 0, ErrInvalidField("discount_percent", "must be a number")
	}
	if percent < 0 {
		return 0, ErrInvalidField("discount_percent", "must not be negative")
	}
	rate := percent / 100
	if rate > MaxRoundTripDiscountRate {
		return 0, ErrInvalidField("discount_percent", "must not exceed 50")
	}
	return rate, nil
}

// RoundTripOffer combines an outbound and a return leg
type RoundTripOffer struct {
	LinkID         uuid.UUID        `json:"link_id"`
	Outbound       TripSearchResult `json:"outbound"`
	Return         TripSearchResult `json:"return"`
	Subtotal       float64          `json:"subtotal"`
	DiscountRate   float64          `json:"discount_rate"`
	DiscountAmount float64          `json:"discount_amount"`
	TotalPrice     float64          `json:"total_price"`
}
