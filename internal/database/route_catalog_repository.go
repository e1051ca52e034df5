package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// RouteCatalogRepository reads route templates, their cities and fares
type RouteCatalogRepository struct {
	db *sqlx.DB
}

// NewRouteCatalogRepository creates a new RouteCatalogRepository
func NewRouteCatalogRepository(db *sqlx.DB) *RouteCatalogRepository {
	return &RouteCatalogRepository{db: db}
}

// GetRouteTemplate retrieves a template with its cities and stations.
// Returns nil, nil if the template does not exist.
func (r *RouteCatalogRepository) GetRouteTemplate(ctx context.Context, id uuid.UUID) (*models.RouteTemplate, error) {
	var tmpl models.RouteTemplate
	query := `
		SELECT id, driver_id, name, base_price, status, created_at, updated_at
		FROM route_templates
		WHERE id = $1`

	err := r.db.GetContext(ctx, &tmpl, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get route template: %w", err)
	}

	cities, err := r.GetCitiesForTemplates(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	tmpl.Cities = cities[id]

	stationQuery := `
		SELECT s.id, s.route_city_id, s.name, s.address
		FROM stations s
		JOIN route_cities rc ON rc.id = s.route_city_id
		WHERE rc.route_template_id = $1
		ORDER BY rc.sequence_order, s.name`

	var stations []models.Station
	if err := r.db.SelectContext(ctx, &stations, stationQuery, id); err != nil {
		return nil, fmt.Errorf("failed to get template stations: %w", err)
	}

	byCity := make(map[uuid.UUID][]models.Station)
	for _, s := range stations {
		byCity[s.RouteCityID] = append(byCity[s.RouteCityID], s)
	}
	for i := range tmpl.Cities {
		tmpl.Cities[i].Stations = byCity[tmpl.Cities[i].ID]
	}

	return &tmpl, nil
}

// GetCitiesForTemplates batch loads ordered cities keyed by template id
func (r *RouteCatalogRepository) GetCitiesForTemplates(ctx context.Context, templateIDs []uuid.UUID) (map[uuid.UUID][]models.RouteCity, error) {
	result := make(map[uuid.UUID][]models.RouteCity, len(templateIDs))
	if len(templateIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT id, route_template_id, city_name, COALESCE(country_code, '') AS country_code, sequence_order
		FROM route_cities
		WHERE route_template_id IN (?)
		ORDER BY route_template_id, sequence_order
	`, templateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build cities query: %w", err)
	}

	var cities []models.RouteCity
	if err := r.db.SelectContext(ctx, &cities, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get route cities: %w", err)
	}

	for _, c := range cities {
		result[c.RouteTemplateID] = append(result[c.RouteTemplateID], c)
	}
	return result, nil
}

// GetFaresForTemplates batch loads intercity fares keyed by template id
func (r *RouteCatalogRepository) GetFaresForTemplates(ctx context.Context, templateIDs []uuid.UUID) (map[uuid.UUID][]models.IntercityFare, error) {
	result := make(map[uuid.UUID][]models.IntercityFare, len(templateIDs))
	if len(templateIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT route_template_id, from_city, to_city, price
		FROM intercity_fares
		WHERE route_template_id IN (?)
	`, templateIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build fares query: %w", err)
	}

	var fares []models.IntercityFare
	if err := r.db.SelectContext(ctx, &fares, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get intercity fares: %w", err)
	}

	for _, f := range fares {
		result[f.RouteTemplateID] = append(result[f.RouteTemplateID], f)
	}
	return result, nil
}

// GetPricingInput loads everything the pricing engine needs for one template
func (r *RouteCatalogRepository) GetPricingInput(ctx context.Context, templateID uuid.UUID) (*models.RouteTemplate, []models.IntercityFare, error) {
	tmpl, err := r.GetRouteTemplate(ctx, templateID)
	if err != nil || tmpl == nil {
		return tmpl, nil, err
	}

	fares, err := r.GetFaresForTemplates(ctx, []uuid.UUID{templateID})
	if err != nil {
		return nil, nil, err
	}
	return tmpl, fares[templateID], nil
}
