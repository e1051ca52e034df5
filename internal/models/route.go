package models

import (
	"time"

	"github.com/google/uuid"
)

// RouteTemplateStatus represents the lifecycle of a driver's route template
type RouteTemplateStatus string

const (
	RouteTemplateStatusDraft    RouteTemplateStatus = "draft"
	RouteTemplateStatusActive   RouteTemplateStatus = "active"
	RouteTemplateStatusInactive RouteTemplateStatus = "inactive"
)

// RouteTemplate is a driver-defined ordered city/station blueprint
type RouteTemplate struct {
	ID        uuid.UUID           `json:"id" db:"id"`
	DriverID  uuid.UUID           `json:"driver_id" db:"driver_id"`
	Name      string              `json:"name" db:"name"`
	BasePrice float64             `json:"base_price" db:"base_price"`
	Status    RouteTemplateStatus `json:"status" db:"status"`
	CreatedAt time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt time.Time           `json:"updated_at" db:"updated_at"`

	Cities []RouteCity `json:"cities,omitempty" db:"-"`
}

// RouteCity is one stop city on a template. SequenceOrder is strictly
// increasing along the template and defines the direction of travel.
type RouteCity struct {
	ID              uuid.UUID `json:"id" db:"id"`
	RouteTemplateID uuid.UUID `json:"route_template_id" db:"route_template_id"`
	CityName        string    `json:"city_name" db:"city_name"`
	CountryCode     string    `json:"country_code" db:"country_code"`
	SequenceOrder   int       `json:"sequence_order" db:"sequence_order"`

	Stations []Station `json:"stations,omitempty" db:"-"`
}

// Station is a boarding point inside a route city
type Station struct {
	ID          uuid.UUID `json:"id" db:"id"`
	RouteCityID uuid.UUID `json:"route_city_id" db:"route_city_id"`
	Name        string    `json:"name" db:"name"`
	Address     *string   `json:"address,omitempty" db:"address"`
}

// IntercityFare is a directional price between two cities of a template.
// Rows are optional; missing pairs are priced by hop sum or base price.
type IntercityFare struct {
	RouteTemplateID uuid.UUID `json:"route_template_id" db:"route_template_id"`
	FromCity        string    `json:"from_city" db:"from_city"`
	ToCity          string    `json:"to_city" db:"to_city"`
	Price           float64   `json:"price" db:"price"`
}

// CityByName returns the template city with the given name
func (rt *RouteTemplate) CityByName(name string) (RouteCity, bool) {
	for _, c := range rt.Cities {
		if sameCity(c.CityName, name) {
			return c, true
		}
	}
	return RouteCity{}, false
}

// IsActive reports whether trips may be scheduled on the template
func (rt *RouteTemplate) IsActive() bool {
	return rt.Status == RouteTemplateStatusActive
}
