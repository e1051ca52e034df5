package models

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TripStatus represents the status of a scheduled trip
type TripStatus string

const (
	TripStatusScheduled  TripStatus = "scheduled"
	TripStatusInProgress TripStatus = "in_progress"
	TripStatusCompleted  TripStatus = "completed"
	TripStatusCancelled  TripStatus = "cancelled"
)

var tripTransitions = map[TripStatus][]TripStatus{
	TripStatusScheduled:  {TripStatusInProgress, TripStatusCancelled},
	TripStatusInProgress: {TripStatusCompleted},
}

// CanTransitionTo reports whether a trip may move from s to next
func (s TripStatus) CanTransitionTo(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusCompleted || s == TripStatusCancelled
}

// Trip is one dated instance of a route template
type Trip struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	RouteTemplateID uuid.UUID  `json:"route_template_id" db:"route_template_id"`
	DriverID        uuid.UUID  `json:"driver_id" db:"driver_id"`
	VehicleID       uuid.UUID  `json:"vehicle_id" db:"vehicle_id"`
	LuggagePolicyID *uuid.UUID `json:"luggage_policy_id,omitempty" db:"luggage_policy_id"`
	DepartureTime   time.Time  `json:"departure_time" db:"departure_time"`
	ArrivalTime     *time.Time `json:"arrival_time,omitempty" db:"arrival_time"`
	AvailableSeats  int        `json:"available_seats" db:"available_seats"`
	TotalSeats      int        `json:"total_seats" db:"total_seats"`
	Status          TripStatus `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`

	Stations []TripStation `json:"stations,omitempty" db:"-"`
}

// TripStation is a template station served by a trip
type TripStation struct {
	TripID         uuid.UUID `json:"trip_id" db:"trip_id"`
	StationID      uuid.UUID `json:"station_id" db:"station_id"`
	StationName    string    `json:"station_name" db:"station_name"`
	StationAddress *string   `json:"station_address,omitempty" db:"station_address"`
	CityName       string    `json:"city_name" db:"city_name"`
	SequenceOrder  int       `json:"sequence_order" db:"sequence_order"`
	IsPickupPoint  bool      `json:"is_pickup_point" db:"is_pickup_point"`
	IsDropoffPoint bool      `json:"is_dropoff_point" db:"is_dropoff_point"`
}

// IsBookable reports whether new holds may be created on the trip
func (t *Trip) IsBookable(now time.Time) bool {
	return t.Status == TripStatusScheduled && t.DepartureTime.After(now)
}

// Duration returns the scheduled travel time, or false if no arrival is set
func (t *Trip) Duration() (time.Duration, bool) {
	if t.ArrivalTime == nil {
		return 0, false
	}
	return t.ArrivalTime.Sub(t.DepartureTime), true
}

// Station returns the served station with the given id
func (t *Trip) Station(id uuid.UUID) (TripStation, bool) {
	for _, s := range t.Stations {
		if s.StationID == id {
			return s, true
		}
	}
	return TripStation{}, false
}

// ServedCities returns the distinct city names the trip serves, in route order
func (t *Trip) ServedCities() []string {
	stations := make([]TripStation, len(t.Stations))
	copy(stations, t.Stations)
	sort.SliceStable(stations, func(i, j int) bool {
		return stations[i].SequenceOrder < stations[j].SequenceOrder
	})

	cities := make([]string, 0, len(stations))
	for _, s := range stations {
		if len(cities) > 0 && sameCity(cities[len(cities)-1], s.CityName) {
			continue
		}
		cities = append(cities, s.CityName)
	}
	return cities
}

// StationsIn returns served stations in a city, filtered by pickup or dropoff
func (t *Trip) StationsIn(city string, pickup bool) []TripStation {
	out := make([]TripStation, 0)
	for _, s := range t.Stations {
		if !sameCity(s.CityName, city) {
			continue
		}
		if (pickup && s.IsPickupPoint) || (!pickup && s.IsDropoffPoint) {
			out = append(out, s)
		}
	}
	return out
}

// ScheduleTripRequest is submitted by a driver to create a trip
type ScheduleTripRequest struct {
	RouteTemplateID uuid.UUID              `json:"route_template_id" binding:"required" validate:"required"`
	VehicleID       uuid.UUID              `json:"vehicle_id" binding:"required" validate:"required"`
	LuggagePolicyID *uuid.UUID             `json:"luggage_policy_id,omitempty"`
	DepartureTime   time.Time              `json:"departure_time" binding:"required" validate:"required"`
	ArrivalTime     *time.Time             `json:"arrival_time,omitempty"`
	Stations        []TripStationSelection `json:"stations" binding:"required" validate:"required,min=2,dive"`
}

// TripStationSelection marks one template station as served by a trip
type TripStationSelection struct {
	StationID uuid.UUID `json:"station_id" validate:"required"`
	IsPickup  bool      `json:"is_pickup"`
	IsDropoff bool      `json:"is_dropoff"`
}

// Validate validates the schedule request
func (r *ScheduleTripRequest) Validate(now time.Time) error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if !r.DepartureTime.After(now) {
		return ErrInvalidField("departure_time", "must be in the future")
	}
	if r.ArrivalTime != nil && !r.ArrivalTime.After(r.DepartureTime) {
		return ErrInvalidField("arrival_time", "must be after departure_time")
	}
	seen := make(map[uuid.UUID]bool, len(r.Stations))
	for _, s := range r.Stations {
		if seen[s.StationID] {
			return ErrInvalidField("stations", "must not contain duplicates")
		}
		seen[s.StationID] = true
		if !s.IsPickup && !s.IsDropoff {
			return ErrInvalidField("stations", "every station must allow pickup or dropoff")
		}
	}
	return nil
}

// UpdateTripStatusRequest moves a trip through its lifecycle
type UpdateTripStatusRequest struct {
	Status TripStatus `json:"status" binding:"required,oneof=in_progress completed cancelled"`
}

func sameCity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
