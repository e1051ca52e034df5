package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// FleetRepository handles drivers, vehicles and luggage policies
type FleetRepository struct {
	db *sqlx.DB
}

// NewFleetRepository creates a new FleetRepository
func NewFleetRepository(db *sqlx.DB) *FleetRepository {
	return &FleetRepository{db: db}
}

// GetDriverByUserID retrieves the driver profile of an authenticated user
func (r *FleetRepository) GetDriverByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error) {
	var driver models.Driver
	query := `
		SELECT id, user_id, display_name, rating, rating_count
		FROM drivers
		WHERE user_id = $1`

	err := r.db.GetContext(ctx, &driver, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

// GetVehicle retrieves a vehicle by ID
func (r *FleetRepository) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	var vehicle models.Vehicle
	query := `
		SELECT id, driver_id, make, model, license_plate, seat_capacity, has_ac, has_wifi, created_at
		FROM vehicles
		WHERE id = $1`

	err := r.db.GetContext(ctx, &vehicle, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vehicle, nil
}

const luggagePolicyColumns = `
	id, driver_id, name, free_bag_weight_kg, excess_fee_per_bag,
	max_additional_bags, max_bag_size, is_default, created_at`

// GetLuggagePolicy retrieves a luggage policy by ID
func (r *FleetRepository) GetLuggagePolicy(ctx context.Context, id uuid.UUID) (*models.LuggagePolicy, error) {
	var policy models.LuggagePolicy
	query := `SELECT ` + luggagePolicyColumns + ` FROM luggage_policies WHERE id = $1`

	err := r.db.GetContext(ctx, &policy, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}

// GetDefaultLuggagePolicy retrieves the driver's default policy, if any
func (r *FleetRepository) GetDefaultLuggagePolicy(ctx context.Context, driverID uuid.UUID) (*models.LuggagePolicy, error) {
	var policy models.LuggagePolicy
	query := `SELECT ` + luggagePolicyColumns + ` FROM luggage_policies WHERE driver_id = $1 AND is_default`

	err := r.db.GetContext(ctx, &policy, query, driverID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
