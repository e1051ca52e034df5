package database

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
)

// ReservationRepository handles confirmed reservations and booked seats
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository creates a new ReservationRepository
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// BookedSeatsConstraint is the unique constraint that stops a seat being sold twice
const BookedSeatsConstraint = "booked_seats_trip_id_seat_number_key"

const reservationColumns = `
	r.id, r.trip_id, r.passenger_id, r.pickup_station_id, r.dropoff_station_id,
	r.seat_count, r.number_of_bags, r.segment_price, r.luggage_fee, r.total_price, r.currency,
	r.booking_reference, r.status, r.temp_booking_id, r.cancelled_at,
	r.passenger_name, r.passenger_email, r.passenger_phone,
	r.created_at, r.updated_at`

// BeginTx starts a new transaction
func (r *ReservationRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

// ============================================================================
// REFERENCE GENERATION
// ============================================================================

const referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateBookingReferenceTx generates a unique booking reference
// Format: IC-XXXXXXXX (8 chars, no ambiguous 0/O or 1/I)
// Example: IC-7KQ2MZ4P
func (r *ReservationRepository) GenerateBookingReferenceTx(ctx context.Context, tx *sqlx.Tx) (string, error) {
	for attempts := 0; attempts < 10; attempts++ {
		code := make([]byte, 8)
		for i := range code {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceAlphabet))))
			if err != nil {
				return "", fmt.Errorf("failed to generate random reference: %w", err)
			}
			code[i] = referenceAlphabet[n.Int64()]
		}
		ref := "IC-" + string(code)

		var count int
		err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM reservations WHERE booking_reference = $1`, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check reference uniqueness: %w", err)
		}
		if count == 0 {
			return ref, nil
		}
	}

	return "", fmt.Errorf("failed to generate unique booking reference after 10 attempts")
}

// ============================================================================
// RESERVATION OPERATIONS
// ============================================================================

// CreateTx inserts a reservation and one booked seat row per seat.
// A seat already sold on the trip surfaces as a BookedSeatsConstraint violation.
func (r *ReservationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, res *models.Reservation) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	res.SeatCount = len(res.Seats)

	query := `
		INSERT INTO reservations (
			id, trip_id, passenger_id, pickup_station_id, dropoff_station_id,
			seat_count, number_of_bags, segment_price, luggage_fee, total_price, currency,
			booking_reference, status, temp_booking_id,
			passenger_name, passenger_email, passenger_phone
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		) RETURNING created_at, updated_at`

	err := tx.QueryRowxContext(ctx, query,
		res.ID, res.TripID, res.PassengerID, res.PickupStationID, res.DropoffStationID,
		res.SeatCount, res.NumberOfBags, res.SegmentPrice, res.LuggageFee, res.TotalPrice, res.Currency,
		res.BookingReference, res.Status, res.TempBookingID,
		res.Name, res.Email, res.Phone,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	for _, seat := range res.Seats {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO booked_seats (reservation_id, trip_id, seat_number)
			VALUES ($1, $2, $3)`,
			res.ID, res.TripID, seat)
		if err != nil {
			return fmt.Errorf("failed to book seat %s: %w", seat, err)
		}
	}

	return nil
}

// GetByTempBookingIDTx finds the reservation a hold was converted into
func (r *ReservationRepository) GetByTempBookingIDTx(ctx context.Context, tx *sqlx.Tx, holdID uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	err := tx.GetContext(ctx, &res, `SELECT `+reservationColumns+` FROM reservations r WHERE r.temp_booking_id = $1`, holdID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation by hold: %w", err)
	}
	return &res, nil
}

// GetByID retrieves a reservation by ID
func (r *ReservationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.GetContext(ctx, &res, `SELECT `+reservationColumns+` FROM reservations r WHERE r.id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &res, nil
}

// GetDetailsByReference retrieves a reservation joined with its trip for
// display and ticketing, including its seat numbers
func (r *ReservationRepository) GetDetailsByReference(ctx context.Context, reference string) (*models.ReservationDetails, error) {
	var details models.ReservationDetails
	query := `
		SELECT ` + reservationColumns + `,
			t.departure_time, t.arrival_time,
			rt.name AS route_name,
			ps.name AS pickup_station_name, pc.city_name AS pickup_city,
			ds.name AS dropoff_station_name, dc.city_name AS dropoff_city,
			d.display_name AS driver_name, v.license_plate AS vehicle_plate
		FROM reservations r
		JOIN trips t ON t.id = r.trip_id
		JOIN route_templates rt ON rt.id = t.route_template_id
		JOIN drivers d ON d.id = t.driver_id
		JOIN vehicles v ON v.id = t.vehicle_id
		JOIN stations ps ON ps.id = r.pickup_station_id
		JOIN route_cities pc ON pc.id = ps.route_city_id
		JOIN stations ds ON ds.id = r.dropoff_station_id
		JOIN route_cities dc ON dc.id = ds.route_city_id
		WHERE r.booking_reference = $1`

	err := r.db.GetContext(ctx, &details, query, reference)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation by reference: %w", err)
	}

	seats, err := r.GetSeatNumbers(ctx, details.ID)
	if err != nil {
		return nil, err
	}
	details.Seats = seats
	return &details, nil
}

// GetSeatNumbers returns the seats held by a reservation
func (r *ReservationRepository) GetSeatNumbers(ctx context.Context, reservationID uuid.UUID) ([]string, error) {
	seats := []string{}
	err := r.db.SelectContext(ctx, &seats,
		`SELECT seat_number FROM booked_seats WHERE reservation_id = $1 ORDER BY seat_number`, reservationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get booked seats: %w", err)
	}
	return seats, nil
}

// ListByTrip returns every reservation on a trip, newest first
func (r *ReservationRepository) ListByTrip(ctx context.Context, tripID uuid.UUID) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := r.db.SelectContext(ctx, &reservations,
		`SELECT `+reservationColumns+` FROM reservations r WHERE r.trip_id = $1 ORDER BY r.created_at DESC`, tripID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	return reservations, nil
}

// CancelTx cancels an active reservation and frees its physical seats.
// Returns false if the reservation was not cancellable.
func (r *ReservationRepository) CancelTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'confirmed')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM booked_seats WHERE reservation_id = $1`, id); err != nil {
		return false, fmt.Errorf("failed to release booked seats: %w", err)
	}
	return true, nil
}

// ============================================================================
// SEAT AVAILABILITY
// ============================================================================

// FindBookedSeats returns which of the given seat numbers are already sold on a trip
func (r *ReservationRepository) FindBookedSeats(ctx context.Context, tripID uuid.UUID, seats []string) ([]string, error) {
	taken := []string{}
	if len(seats) == 0 {
		return taken, nil
	}

	query, args, err := sqlx.In(`
		SELECT seat_number FROM booked_seats
		WHERE trip_id = ? AND seat_number IN (?)
		ORDER BY seat_number
	`, tripID, seats)
	if err != nil {
		return nil, fmt.Errorf("failed to build seat query: %w", err)
	}

	if err := r.db.SelectContext(ctx, &taken, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to check booked seats: %w", err)
	}
	return taken, nil
}
