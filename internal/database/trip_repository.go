package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// TripRepository handles trip registry and seat capacity operations
type TripRepository struct {
	db *sqlx.DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db *sqlx.DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `
	t.id, t.route_template_id, t.driver_id, t.vehicle_id, t.luggage_policy_id,
	t.departure_time, t.arrival_time, t.available_seats, t.total_seats,
	t.status, t.created_at, t.updated_at`

const candidateSelect = `
	SELECT ` + tripColumns + `,
		rt.name AS route_name, rt.base_price,
		d.display_name AS driver_name, d.rating AS driver_rating,
		v.make AS vehicle_make, v.model AS vehicle_model, v.license_plate AS vehicle_plate,
		v.seat_capacity AS vehicle_seats, v.has_ac AS vehicle_has_ac, v.has_wifi AS vehicle_has_wifi,
		lp.excess_fee_per_bag, lp.max_additional_bags, lp.max_bag_size
	FROM trips t
	JOIN route_templates rt ON rt.id = t.route_template_id
	JOIN drivers d ON d.id = t.driver_id
	JOIN vehicles v ON v.id = t.vehicle_id
	LEFT JOIN luggage_policies lp ON lp.id = t.luggage_policy_id`

// ============================================================================
// TRIP CRUD
// ============================================================================

// Create inserts a trip and its served stations in one transaction.
// AvailableSeats starts at TotalSeats.
func (r *TripRepository) Create(ctx context.Context, trip *models.Trip, stations []models.TripStationSelection) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	trip.ID = uuid.New()
	trip.AvailableSeats = trip.TotalSeats
	trip.Status = models.TripStatusScheduled

	query := `
		INSERT INTO trips (
			id, route_template_id, driver_id, vehicle_id, luggage_policy_id,
			departure_time, arrival_time, available_seats, total_seats, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		trip.ID, trip.RouteTemplateID, trip.DriverID, trip.VehicleID, trip.LuggagePolicyID,
		trip.DepartureTime, trip.ArrivalTime, trip.AvailableSeats, trip.TotalSeats, trip.Status,
	).Scan(&trip.CreatedAt, &trip.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create trip: %w", err)
	}

	for _, s := range stations {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO trip_stations (trip_id, station_id, is_pickup_point, is_dropoff_point)
			VALUES ($1, $2, $3, $4)`,
			trip.ID, s.StationID, s.IsPickup, s.IsDropoff)
		if err != nil {
			return fmt.Errorf("failed to add station %s: %w", s.StationID, err)
		}
	}

	return tx.Commit()
}

// GetByID retrieves a trip with its served stations.
// Returns nil, nil if the trip does not exist.
func (r *TripRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	var trip models.Trip
	query := `SELECT ` + tripColumns + ` FROM trips t WHERE t.id = $1`

	err := r.db.GetContext(ctx, &trip, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}

	stations, err := r.GetStationsForTrips(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	trip.Stations = stations[id]
	return &trip, nil
}

// GetStationsForTrips batch loads served stations in route order
func (r *TripRepository) GetStationsForTrips(ctx context.Context, tripIDs []uuid.UUID) (map[uuid.UUID][]models.TripStation, error) {
	result := make(map[uuid.UUID][]models.TripStation, len(tripIDs))
	if len(tripIDs) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In(`
		SELECT ts.trip_id, ts.station_id, s.name AS station_name, s.address AS station_address,
		       rc.city_name, rc.sequence_order, ts.is_pickup_point, ts.is_dropoff_point
		FROM trip_stations ts
		JOIN stations s ON s.id = ts.station_id
		JOIN route_cities rc ON rc.id = s.route_city_id
		WHERE ts.trip_id IN (?)
		ORDER BY ts.trip_id, rc.sequence_order, s.name
	`, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build stations query: %w", err)
	}

	var stations []models.TripStation
	if err := r.db.SelectContext(ctx, &stations, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get trip stations: %w", err)
	}

	for _, s := range stations {
		result[s.TripID] = append(result[s.TripID], s)
	}
	return result, nil
}

// UpdateStatus moves a trip from one status to another.
// Returns false if the trip was not in the expected status.
func (r *TripRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.TripStatus) (bool, error) {
	query := `
		UPDATE trips
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	result, err := r.db.ExecContext(ctx, query, id, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to update trip status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// SEAT CAPACITY
// ============================================================================

// DecrementSeatsTx consumes seats only if enough remain. The check and the
// write are one statement, so concurrent callers can never drive the count
// below zero. Returns false when capacity is insufficient.
func (r *TripRepository) DecrementSeatsTx(ctx context.Context, tx *sqlx.Tx, tripID uuid.UUID, seats int) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE trips
		SET available_seats = available_seats - $2, updated_at = NOW()
		WHERE id = $1 AND available_seats >= $2`,
		tripID, seats)
	if err != nil {
		return false, fmt.Errorf("failed to decrement seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// IncrementSeatsTx returns seats to a trip without exceeding its total
func (r *TripRepository) IncrementSeatsTx(ctx context.Context, tx *sqlx.Tx, tripID uuid.UUID, seats int) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE trips
		SET available_seats = available_seats + $2, updated_at = NOW()
		WHERE id = $1 AND available_seats + $2 <= total_seats`,
		tripID, seats)
	if err != nil {
		return false, fmt.Errorf("failed to increment seats: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// ============================================================================
// SEARCH
// ============================================================================

// CandidateFilter narrows the trips considered by search
type CandidateFilter struct {
	FromCity    string
	ToCity      string
	DepartAfter time.Time  // trips departing at or before this are excluded
	WindowStart *time.Time // inclusive, optional
	WindowEnd   *time.Time // exclusive, optional
	MinSeats    int
	After       *CandidateCursor // resume after this trip, optional
	Limit       int
}

// CandidateCursor is the last trip of a page in (departure_time, id) order
type CandidateCursor struct {
	DepartureTime time.Time
	ID            uuid.UUID
}

// SearchCandidates returns one page of scheduled trips that serve a pickup
// in FromCity before a dropoff in ToCity, in departure order. Pricing and
// ranking happen in the caller.
func (r *TripRepository) SearchCandidates(ctx context.Context, f CandidateFilter) ([]models.TripCandidate, error) {
	query := candidateSelect + `
		WHERE t.status = 'scheduled'
		  AND t.departure_time > $3
		  AND ($4::timestamptz IS NULL OR t.departure_time >= $4)
		  AND ($5::timestamptz IS NULL OR t.departure_time < $5)
		  AND t.available_seats >= $6
		  AND EXISTS (
			SELECT 1
			FROM trip_stations fs
			JOIN stations fst ON fst.id = fs.station_id
			JOIN route_cities fc ON fc.id = fst.route_city_id
			JOIN trip_stations ds ON ds.trip_id = fs.trip_id
			JOIN stations dst ON dst.id = ds.station_id
			JOIN route_cities dc ON dc.id = dst.route_city_id
			WHERE fs.trip_id = t.id
			  AND fs.is_pickup_point AND ds.is_dropoff_point
			  AND LOWER(fc.city_name) = LOWER($1)
			  AND LOWER(dc.city_name) = LOWER($2)
			  AND fc.sequence_order < dc.sequence_order
		  )
		  AND ($7::timestamptz IS NULL OR (t.departure_time, t.id) > ($7::timestamptz, $8::uuid))
		ORDER BY t.departure_time, t.id
		LIMIT $9`

	var afterTime *time.Time
	var afterID *uuid.UUID
	if f.After != nil {
		afterTime, afterID = &f.After.DepartureTime, &f.After.ID
	}

	var candidates []models.TripCandidate
	err := r.db.SelectContext(ctx, &candidates, query,
		f.FromCity, f.ToCity, f.DepartAfter, f.WindowStart, f.WindowEnd, f.MinSeats, afterTime, afterID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search trips: %w", err)
	}
	return candidates, nil
}

// GetCandidate loads a single trip in search form.
// Returns nil, nil if the trip does not exist.
func (r *TripRepository) GetCandidate(ctx context.Context, tripID uuid.UUID) (*models.TripCandidate, error) {
	var candidate models.TripCandidate
	err := r.db.GetContext(ctx, &candidate, candidateSelect+` WHERE t.id = $1`, tripID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip: %w", err)
	}
	return &candidate, nil
}
