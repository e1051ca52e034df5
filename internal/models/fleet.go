package models

import (
	"time"

	"github.com/google/uuid"
)

// Driver is the public profile of a trip operator
type Driver struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Rating      float64   `json:"rating" db:"rating"`
	RatingCount int       `json:"rating_count" db:"rating_count"`
}

// Vehicle supplies the seat capacity of a trip
type Vehicle struct {
	ID           uuid.UUID `json:"id" db:"id"`
	DriverID     uuid.UUID `json:"driver_id" db:"driver_id"`
	Make         string    `json:"make" db:"make"`
	Model        string    `json:"model" db:"model"`
	LicensePlate string    `json:"license_plate" db:"license_plate"`
	SeatCapacity int       `json:"seat_capacity" db:"seat_capacity"`
	HasAC        bool      `json:"has_ac" db:"has_ac"`
	HasWifi      bool      `json:"has_wifi" db:"has_wifi"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// LuggagePolicy prices bags by count. The first bag is always free;
// every additional bag costs ExcessFeePerBag, up to MaxAdditionalBags.
//
// ExcessFeePerBag is stored in the excess_fee_per_bag column. Older data
// exports call it excessFeePerKg even though it was always charged per bag.
type LuggagePolicy struct {
	ID                uuid.UUID `json:"id" db:"id"`
	DriverID          uuid.UUID `json:"driver_id" db:"driver_id"`
	Name              string    `json:"name" db:"name"`
	FreeBagWeightKg   *float64  `json:"free_bag_weight_kg,omitempty" db:"free_bag_weight_kg"`
	ExcessFeePerBag   float64   `json:"excess_fee_per_bag" db:"excess_fee_per_bag"`
	MaxAdditionalBags int       `json:"max_additional_bags" db:"max_additional_bags"`
	MaxBagSize        *string   `json:"max_bag_size,omitempty" db:"max_bag_size"`
	IsDefault         bool      `json:"is_default" db:"is_default"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// FreeBagOnlyPolicy is applied to trips scheduled without a luggage policy
var FreeBagOnlyPolicy = LuggagePolicy{Name: "free bag only"}

// LuggageSummary is the policy subset shown in search results
type LuggageSummary struct {
	FreeBags          int     `json:"free_bags"`
	ExcessFeePerBag   float64 `json:"excess_fee_per_bag"`
	MaxAdditionalBags int     `json:"max_additional_bags"`
	MaxBagSize        *string `json:"max_bag_size,omitempty"`
}

// Summary returns the search-facing view of the policy
func (p LuggagePolicy) Summary() LuggageSummary {
	return LuggageSummary{
		FreeBags:          1,
		ExcessFeePerBag:   p.ExcessFeePerBag,
		MaxAdditionalBags: p.MaxAdditionalBags,
		MaxBagSize:        p.MaxBagSize,
	}
}
