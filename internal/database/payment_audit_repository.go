package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

const paymentAuditColumns = `
	id, temp_booking_id, reservation_id, processor_payment_id,
	event_type, event_source,
	expected_amount, received_amount, currency, amounts_match,
	payment_status, payload, raw_body,
	error_message, error_code,
	is_duplicate, ip_address, user_agent, correlation_id,
	created_at`

// Log creates a new payment audit entry.
// Payment events must never be dropped silently; failures are logged at error level.
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (` + paymentAuditColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15,
			$16, $17, $18, $19,
			$20
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.TempBookingID, audit.ReservationID, audit.ProcessorPaymentID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.PaymentStatus, audit.Payload, audit.RawBody,
		audit.ErrorMessage, audit.ErrorCode,
		audit.IsDuplicate, audit.IPAddress, audit.UserAgent, audit.CorrelationID,
		audit.CreatedAt,
	)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":           audit.EventType,
			"processor_payment_id": audit.ProcessorPaymentID,
		}).Error("CRITICAL: Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// CheckDuplicate reports whether an event of this type was already
// recorded for the processor payment
func (r *PaymentAuditRepository) CheckDuplicate(ctx context.Context, processorPaymentID string, eventType models.PaymentEventType) (bool, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM payment_audits
		WHERE processor_payment_id = $1
		  AND event_type = $2
		  AND is_duplicate = FALSE`

	err := r.db.GetContext(ctx, &count, query, processorPaymentID, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return count > 0, nil
}

// GetByHold retrieves all audit entries for a hold, oldest first
func (r *PaymentAuditRepository) GetByHold(ctx context.Context, holdID uuid.UUID) ([]models.PaymentAudit, error) {
	audits := []models.PaymentAudit{}
	query := `SELECT ` + paymentAuditColumns + ` FROM payment_audits WHERE temp_booking_id = $1 ORDER BY created_at ASC`

	if err := r.db.SelectContext(ctx, &audits, query, holdID); err != nil {
		return nil, fmt.Errorf("failed to get audits by hold: %w", err)
	}
	return audits, nil
}

// GetRefundRequests retrieves the most recent compensation requests
func (r *PaymentAuditRepository) GetRefundRequests(ctx context.Context, limit int) ([]models.PaymentAudit, error) {
	audits := []models.PaymentAudit{}
	query := `SELECT ` + paymentAuditColumns + ` FROM payment_audits WHERE event_type = $1 ORDER BY created_at DESC LIMIT $2`

	if err := r.db.SelectContext(ctx, &audits, query, models.PaymentEventRefundRequested, limit); err != nil {
		return nil, fmt.Errorf("failed to get refund requests: %w", err)
	}
	return audits, nil
}
