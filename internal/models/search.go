package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SearchSortKey selects the ranking of search results
type SearchSortKey string

const (
	SortByPrice     SearchSortKey = "price"
	SortByDeparture SearchSortKey = "departure"
	SortByDuration  SearchSortKey = "duration"
	SortByRating    SearchSortKey = "rating"
)

// DateLayout is the calendar date format accepted by search
const DateLayout = "2006-01-02"

// SearchRequest represents a passenger's search query
type SearchRequest struct {
	From          string        `json:"from" binding:"required"`  // Origin city name
	To            string        `json:"to" binding:"required"`    // Destination city name
	DepartureDate *string       `json:"departure_date,omitempty"` // Optional: YYYY-MM-DD calendar day
	Country       *string       `json:"country,omitempty"`        // Optional: destination country code, scopes the calendar day
	MinSeats      int           `json:"min_seats,omitempty"`      // Optional: default 1
	MaxPrice      *float64      `json:"max_price,omitempty"`      // Optional: upper bound on segment price
	SortBy        SearchSortKey `json:"sort_by,omitempty"`        // Optional: price, departure, duration, rating
	Limit         int           `json:"limit,omitempty"`          // Optional: max results
}

// Validate validates the search request and applies defaults
func (r *SearchRequest) Validate(defaultLimit, maxLimit int) error {
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	if r.From == "" {
		return ErrInvalidField("from", "is required")
	}
	if r.To == "" {
		return ErrInvalidField("to", "is required")
	}
	if strings.EqualFold(r.From, r.To) {
		return &SegmentError{From: r.From, To: r.To, Reason: "origin and destination cannot be the same"}
	}

	if r.DepartureDate != nil {
		if _, err := time.Parse(DateLayout, *r.DepartureDate); err != nil {
			return ErrInvalidField("departure_date", "must be in YYYY-MM-DD format")
		}
	}
	if r.Country != nil {
		c := strings.ToUpper(strings.TrimSpace(*r.Country))
		if len(c) != 2 {
			return ErrInvalidField("country", "must be a 2-letter ISO country code")
		}
		r.Country = &c
	}

	if r.MinSeats < 0 {
		return ErrInvalidField("min_seats", "must not be negative")
	}
	if r.MinSeats == 0 {
		r.MinSeats = 1
	}
	if r.MaxPrice != nil && *r.MaxPrice < 0 {
		return ErrInvalidField("max_price", "must not be negative")
	}

	switch r.SortBy {
	case "":
		r.SortBy = SortByDeparture
	case SortByPrice, SortByDeparture, SortByDuration, SortByRating:
	default:
		return ErrInvalidField("sort_by", "must be one of [price departure duration rating]")
	}

	// Set default limit if not provided
	if r.Limit <= 0 {
		r.Limit = defaultLimit
	}
	// Cap maximum limit
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}

	return nil
}

// PriceSource tells operators how a segment price was resolved
type PriceSource string

const (
	PriceSourceExactFare         PriceSource = "exact_fare"
	PriceSourceHopSum            PriceSource = "hop_sum"
	PriceSourceBasePriceFallback PriceSource = "base_price_fallback"
)

// SegmentQuote is the pricing engine's result for one segment
type SegmentQuote struct {
	FromCity       string      `json:"from_city"`
	ToCity         string      `json:"to_city"`
	SegmentPrice   float64     `json:"segment_price"`
	PriceSource    PriceSource `json:"price_source"`
	FullRoutePrice float64     `json:"full_route_price"`
}

// StationInfo is a boarding or alighting point shown in search results
type StationInfo struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Address *string   `json:"address,omitempty"`
}

// VehicleInfo is the vehicle summary shown in search results
type VehicleInfo struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	LicensePlate string `json:"license_plate"`
	SeatCapacity int    `json:"seat_capacity"`
	HasAC        bool   `json:"has_ac"`
	HasWifi      bool   `json:"has_wifi"`
}

// DriverInfo is the driver summary shown in search results
type DriverInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Rating float64   `json:"rating"`
}

// TripSearchResult is one bookable trip for the requested segment.
// It is denormalised so callers need no further lookups.
type TripSearchResult struct {
	TripID          uuid.UUID      `json:"trip_id"`
	RouteTemplateID uuid.UUID      `json:"route_template_id"`
	RouteName       string         `json:"route_name"`
	FromCity        string         `json:"from_city"`
	ToCity          string         `json:"to_city"`
	DepartureTime   time.Time      `json:"departure_time"`
	ArrivalTime     *time.Time     `json:"arrival_time,omitempty"`
	DurationMinutes *int           `json:"duration_minutes,omitempty"`
	AvailableSeats  int            `json:"available_seats"`
	SegmentPrice    float64        `json:"segment_price"`
	FullRoutePrice  float64        `json:"full_route_price"`
	PriceSource     PriceSource    `json:"price_source"`
	Currency        string         `json:"currency"`
	Driver          DriverInfo     `json:"driver"`
	Vehicle         VehicleInfo    `json:"vehicle"`
	Luggage         LuggageSummary `json:"luggage"`
	PickupStations  []StationInfo  `json:"pickup_stations"`
	DropoffStations []StationInfo  `json:"dropoff_stations"`
}

// SearchResponse represents the search results returned to passenger
type SearchResponse struct {
	Status       string             `json:"status"`         // "success" or "no_results"
	Message      string             `json:"message"`        // Human-readable message
	TimeZone     string             `json:"time_zone"`      // Zone used for departure_date matching
	Results      []TripSearchResult `json:"results"`        // Ranked trips
	SearchTimeMs int64              `json:"search_time_ms"` // Search execution time
}

// TripCandidate is a search row as loaded from the trip registry, before pricing
type TripCandidate struct {
	Trip
	RouteName    string   `db:"route_name"`
	BasePrice    float64  `db:"base_price"`
	DriverName   string   `db:"driver_name"`
	DriverRating float64  `db:"driver_rating"`
	VehicleMake  string   `db:"vehicle_make"`
	VehicleModel string   `db:"vehicle_model"`
	VehiclePlate string   `db:"vehicle_plate"`
	VehicleSeats int      `db:"vehicle_seats"`
	VehicleHasAC bool     `db:"vehicle_has_ac"`
	VehicleWifi  bool     `db:"vehicle_has_wifi"`
	ExcessFee    *float64 `db:"excess_fee_per_bag"`
	MaxExtraBags *int     `db:"max_additional_bags"`
	MaxBagSize   *string  `db:"max_bag_size"`
}

// LuggagePolicy returns the policy attached to the candidate, or the free-bag-only policy
func (c *TripCandidate) LuggagePolicy() LuggagePolicy {
	if c.LuggagePolicyID == nil || c.ExcessFee == nil || c.MaxExtraBags == nil {
		return FreeBagOnlyPolicy
	}
	return LuggagePolicy{
		ID:                *c.LuggagePolicyID,
		ExcessFeePerBag:   *c.ExcessFee,
		MaxAdditionalBags: *c.MaxExtraBags,
		MaxBagSize:        c.MaxBagSize,
	}
}

// SearchLog represents a search analytics record
type SearchLog struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	FromInput      string     `json:"from_input" db:"from_input"`
	ToInput        string     `json:"to_input" db:"to_input"`
	DepartureDate  *string    `json:"departure_date,omitempty" db:"departure_date"`
	ResultsCount   int        `json:"results_count" db:"results_count"`
	ResponseTimeMs int64      `json:"response_time_ms" db:"response_time_ms"`
	UserID         *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	IPAddress      *string    `json:"ip_address,omitempty" db:"ip_address"`
	ClientPlatform *string    `json:"client_platform,omitempty" db:"client_platform"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}
