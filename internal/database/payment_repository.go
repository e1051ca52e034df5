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

// PaymentRepository handles card payment records
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `
	id, reservation_id, temp_booking_id, processor_payment_id,
	amount, currency, status, status_indicator, paid_at, created_at, updated_at`

// CreatePending records a payment started with the card processor.
// Re-initiating the same processor payment is a no-op.
func (r *PaymentRepository) CreatePending(ctx context.Context, p *models.Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = models.PaymentStatusPending

	query := `
		INSERT INTO payments (id, temp_booking_id, processor_payment_id, amount, currency, status, status_indicator)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (processor_payment_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.TempBookingID, p.ProcessorPaymentID, p.Amount, p.Currency, p.Status, p.StatusIndicator)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByProcessorID retrieves a payment by the processor's payment id
func (r *PaymentRepository) GetByProcessorID(ctx context.Context, processorPaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := r.db.GetContext(ctx, &p,
		`SELECT `+paymentColumns+` FROM payments WHERE processor_payment_id = $1`, processorPaymentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// MarkSucceededTx links the payment to its reservation and marks it paid,
// inserting the row if initiation was never recorded
func (r *PaymentRepository) MarkSucceededTx(ctx context.Context, tx *sqlx.Tx, p *models.Payment, paidAt time.Time) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = models.PaymentStatusSucceeded
	p.PaidAt = &paidAt

	query := `
		INSERT INTO payments (
			id, reservation_id, temp_booking_id, processor_payment_id,
			amount, currency, status, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (processor_payment_id) DO UPDATE
		SET reservation_id = EXCLUDED.reservation_id,
		    status = EXCLUDED.status,
		    paid_at = EXCLUDED.paid_at,
		    updated_at = NOW()`

	_, err := tx.ExecContext(ctx, query,
		p.ID, p.ReservationID, p.TempBookingID, p.ProcessorPaymentID,
		p.Amount, p.Currency, p.Status, p.PaidAt)
	if err != nil {
		return fmt.Errorf("failed to mark payment succeeded: %w", err)
	}
	return nil
}

// MarkFailed records a failed payment. A payment that already succeeded
// is left untouched. Returns false when nothing changed.
func (r *PaymentRepository) MarkFailed(ctx context.Context, p *models.Payment) (bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = models.PaymentStatusFailed

	query := `
		INSERT INTO payments (id, temp_booking_id, processor_payment_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (processor_payment_id) DO UPDATE
		SET status = EXCLUDED.status, updated_at = NOW()
		WHERE payments.status = 'pending'`

	result, err := r.db.ExecContext(ctx, query,
		p.ID, p.TempBookingID, p.ProcessorPaymentID, p.Amount, p.Currency, p.Status)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
