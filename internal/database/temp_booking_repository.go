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

// TempBookingRepository handles hold persistence
type TempBookingRepository struct {
	db *sqlx.DB
}

// NewTempBookingRepository creates a new TempBookingRepository
func NewTempBookingRepository(db *sqlx.DB) *TempBookingRepository {
	return &TempBookingRepository{db: db}
}

const tempBookingColumns = `
	id, trip_id, passenger_id, pickup_station_id, dropoff_station_id,
	seats, number_of_bags, segment_price, luggage_fee, total_price, currency,
	booking_reference, payment_intent_id, status, expires_at,
	idempotency_key, hold_token_hash, client_platform,
	passenger_name, passenger_email, passenger_phone,
	created_at, updated_at`

// Unique constraint names Postgres generates for temp_bookings
const (
	TempBookingIdempotencyKeyConstraint = "temp_bookings_idempotency_key_key"
)

// ============================================================================
// HOLD CRUD OPERATIONS
// ============================================================================

// Create inserts a new hold
func (r *TempBookingRepository) Create(ctx context.Context, hold *models.TempBooking) error {
	if hold.ID == uuid.Nil {
		hold.ID = uuid.New()
	}
	now := time.Now()
	hold.CreatedAt = now
	hold.UpdatedAt = now

	query := `
		INSERT INTO temp_bookings (
			id, trip_id, passenger_id, pickup_station_id, dropoff_station_id,
			seats, number_of_bags, segment_price, luggage_fee, total_price, currency,
			status, expires_at, idempotency_key, hold_token_hash, client_platform,
			passenger_name, passenger_email, passenger_phone,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)`

	_, err := r.db.ExecContext(ctx, query,
		hold.ID, hold.TripID, hold.PassengerID, hold.PickupStationID, hold.DropoffStationID,
		hold.Seats, hold.NumberOfBags, hold.SegmentPrice, hold.LuggageFee, hold.TotalPrice, hold.Currency,
		hold.Status, hold.ExpiresAt, hold.IdempotencyKey, hold.HoldTokenHash, hold.ClientPlatform,
		hold.Name, hold.Email, hold.Phone,
		hold.CreatedAt, hold.UpdatedAt,
	)
	return err
}

// GetByID retrieves a hold by ID. Returns nil, nil if not found.
func (r *TempBookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TempBooking, error) {
	return r.getOne(ctx, r.db, `SELECT `+tempBookingColumns+` FROM temp_bookings WHERE id = $1`, id)
}

// GetByIdempotencyKey retrieves the hold created with a client idempotency key
func (r *TempBookingRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.TempBooking, error) {
	return r.getOne(ctx, r.db, `SELECT `+tempBookingColumns+` FROM temp_bookings WHERE idempotency_key = $1`, key)
}

// GetByPaymentIntentID retrieves the hold a processor payment was started for
func (r *TempBookingRepository) GetByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.TempBooking, error) {
	return r.getOne(ctx, r.db, `SELECT `+tempBookingColumns+` FROM temp_bookings WHERE payment_intent_id = $1`, paymentIntentID)
}

// GetForUpdateTx locks the hold row for the rest of the transaction
func (r *TempBookingRepository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.TempBooking, error) {
	return r.getOne(ctx, tx, `SELECT `+tempBookingColumns+` FROM temp_bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *TempBookingRepository) getOne(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.TempBooking, error) {
	var hold models.TempBooking
	err := sqlx.GetContext(ctx, q, &hold, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hold: %w", err)
	}
	return &hold, nil
}

// ============================================================================
// STATUS UPDATE OPERATIONS
// ============================================================================

// MarkProcessing records the processor payment and moves an open, unexpired
// hold to processing. Returns false if the hold is closed or lapsed.
func (r *TempBookingRepository) MarkProcessing(ctx context.Context, id uuid.UUID, paymentIntentID string, now time.Time) (bool, error) {
	query := `
		UPDATE temp_bookings
		SET status = 'processing',
		    payment_intent_id = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing') AND expires_at > $3`

	result, err := r.db.ExecContext(ctx, query, id, paymentIntentID, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark hold processing: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkExpired closes an open hold. Seats were never consumed, so nothing
// is released. Returns false if the hold was already closed.
func (r *TempBookingRepository) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	return r.markExpired(ctx, r.db, id)
}

// MarkExpiredTx is MarkExpired inside a conversion transaction
func (r *TempBookingRepository) MarkExpiredTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (bool, error) {
	return r.markExpired(ctx, tx, id)
}

func (r *TempBookingRepository) markExpired(ctx context.Context, e sqlx.ExecerContext, id uuid.UUID) (bool, error) {
	result, err := e.ExecContext(ctx, `
		UPDATE temp_bookings
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`, id)
	if err != nil {
		return false, fmt.Errorf("failed to expire hold: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// RotateTokenHash replaces the hold token of an open hold. Returns false
// if the hold is no longer open.
func (r *TempBookingRepository) RotateTokenHash(ctx context.Context, id uuid.UUID, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE temp_bookings
		SET hold_token_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, tokenHash)
	if err != nil {
		return false, fmt.Errorf("failed to rotate hold token: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// MarkCompletedTx marks a converted hold and stores its booking reference
func (r *TempBookingRepository) MarkCompletedTx(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, bookingReference string) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE temp_bookings
		SET status = 'completed', booking_reference = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')`,
		id, bookingReference)
	if err != nil {
		return fmt.Errorf("failed to complete hold: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("hold %s not in an open status", id)
	}
	return nil
}

// ============================================================================
// CLEANUP
// ============================================================================

// DeleteLapsed removes up to limit holds whose expiry is at or before
// cutoff. Rows locked by an in-flight conversion are skipped.
func (r *TempBookingRepository) DeleteLapsed(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	query := `
		DELETE FROM temp_bookings
		WHERE id IN (
			SELECT id FROM temp_bookings
			WHERE expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)`

	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete lapsed holds: %w", err)
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

// CountOpen returns the number of holds still awaiting payment
func (r *TempBookingRepository) CountOpen(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM temp_bookings WHERE status IN ('pending', 'processing')`)
	return count, err
}
