package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentConfirmation is a payment outcome reported for a hold
type PaymentConfirmation struct {
	HoldID             uuid.UUID
	ProcessorPaymentID string
	Amount             float64
	Currency           string
}

// WebhookMeta is request metadata recorded with webhook audits
type WebhookMeta struct {
	IPAddress     string
	UserAgent     string
	CorrelationID string
}

// CompensationRequest asks for money taken without a reservation to be returned
type CompensationRequest struct {
	HoldID             uuid.UUID
	ProcessorPaymentID string
	Amount             float64
	Currency           string
	Code               string
	Reason             string
}

// Compensator handles payments that succeeded but could not be converted
type Compensator interface {
	Compensate(ctx context.Context, req CompensationRequest) error
}

// AuditCompensator records a refund request in the payment audit trail.
// Refunds are issued from the refund queue by operators.
type AuditCompensator struct {
	audits *database.PaymentAuditRepository
	logger *logrus.Logger
}

// NewAuditCompensator creates a compensator backed by the payment audit log
func NewAuditCompensator(audits *database.PaymentAuditRepository, logger *logrus.Logger) *AuditCompensator {
	return &AuditCompensator{audits: audits, logger: logger}
}

// Compensate records one refund request per processor payment
func (c *AuditCompensator) Compensate(ctx context.Context, req CompensationRequest) error {
	if req.ProcessorPaymentID != "" {
		dup, err := c.audits.CheckDuplicate(ctx, req.ProcessorPaymentID, models.PaymentEventRefundRequested)
		if err != nil {
			return err
		}
		if dup {
			return nil
		}
	}

	audit := models.NewPaymentAudit(models.PaymentEventRefundRequested, models.PaymentSourceSystem).
		SetProcessorPaymentID(req.ProcessorPaymentID).
		SetError(req.Reason, req.Code).
		SetPayload(map[string]interface{}{
			"refund_amount":   req.Amount,
			"refund_currency": req.Currency,
			"refund_state":    "requested",
		})
	if req.HoldID != uuid.Nil {
		audit.SetHold(req.HoldID)
	}
	audit.SetAmounts(req.Amount, req.Amount, req.Currency)

	if err := c.audits.Log(ctx, audit); err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"hold_id":    req.HoldID,
		"payment_id": req.ProcessorPaymentID,
		"amount":     req.Amount,
		"code":       req.Code,
	}).Warn("Refund requested for unconverted payment")
	return nil
}

// ConversionService turns paid holds into reservations
type ConversionService struct {
	holds        *database.TempBookingRepository
	reservations *database.ReservationRepository
	trips        *database.TripRepository
	payments     *database.PaymentRepository
	audits       *database.PaymentAuditRepository
	processor    PaymentProcessor
	compensator  Compensator
	logger       *logrus.Logger
	now          func() time.Time
}

// NewConversionService creates a new conversion service
func NewConversionService(
	holds *database.TempBookingRepository,
	reservations *database.ReservationRepository,
	trips *database.TripRepository,
	payments *database.PaymentRepository,
	audits *database.PaymentAuditRepository,
	processor PaymentProcessor,
	compensator Compensator,
	logger *logrus.Logger,
) *ConversionService {
	return &ConversionService{
		holds:        holds,
		reservations: reservations,
		trips:        trips,
		payments:     payments,
		audits:       audits,
		processor:    processor,
		compensator:  compensator,
		logger:       logger,
		now:          time.Now,
	}
}

// ============================================================================
// CONVERSION
// ============================================================================

// OnPaymentSucceeded converts a paid hold into a reservation. It is safe to
// call any number of times for the same hold: later calls return the
// reservation created by the first. Seats are taken with a conditional
// decrement so two conversions can never oversell a trip.
func (s *ConversionService) OnPaymentSucceeded(ctx context.Context, conf PaymentConfirmation) (*models.ConversionResult, error) {
	log := s.logger.WithFields(logrus.Fields{
		"hold_id":    conf.HoldID,
		"payment_id": conf.ProcessorPaymentID,
	})

	tx, err := s.reservations.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Step 1: lock the hold and look for an earlier conversion
	hold, err := s.holds.GetForUpdateTx(ctx, tx, conf.HoldID)
	if err != nil {
		return nil, err
	}
	existing, err := s.reservations.GetByTempBookingIDTx(ctx, tx, conf.HoldID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		tx.Rollback()
		log.WithField("booking_reference", existing.BookingReference).Info("Hold already converted")
		s.checkExtraPayment(ctx, existing, conf)
		return &models.ConversionResult{
			Outcome:          models.ConversionAlreadyConverted,
			ReservationID:    existing.ID,
			BookingReference: existing.BookingReference,
		}, nil
	}
	if hold == nil {
		tx.Rollback()
		log.Warn("Hold not found for payment, may have been cleaned up")
		s.handleMissingHold(ctx, conf)
		return &models.ConversionResult{Outcome: models.ConversionHoldNotFound}, nil
	}

	// Step 2: the hold must still be open and within its window
	now := s.now()
	if hold.Status == models.TempBookingStatusExpired || (hold.Status.IsOpen() && hold.IsExpired(now)) {
		if _, err := s.holds.MarkExpiredTx(ctx, tx, hold.ID); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit hold expiry: %w", err)
		}
		log.Warn("Payment arrived after hold expiry")
		s.compensate(ctx, hold, conf, models.AuditCodeHoldExpired, "payment arrived after the hold expired")
		return nil, models.ErrHoldExpired
	}
	if !hold.Status.IsOpen() {
		return nil, models.ErrHoldClosed
	}

	// Step 3: only the checkout started for this hold can pay for it
	if hold.Status != models.TempBookingStatusProcessing || hold.PaymentIntentID == nil ||
		*hold.PaymentIntentID != conf.ProcessorPaymentID {
		tx.Rollback()
		log.WithField("hold_status", hold.Status).Warn("Payment is not the hold's current checkout")
		s.handleStaleCheckout(ctx, hold, conf)
		return nil, models.ErrPaymentUnverified
	}

	// Step 4: the processor must have captured what the hold asked for
	if !amountsMatch(hold.TotalPrice, conf.Amount) ||
		(conf.Currency != "" && !strings.EqualFold(conf.Currency, hold.Currency)) {
		tx.Rollback()
		log.WithFields(logrus.Fields{
			"expected": hold.TotalPrice,
			"received": conf.Amount,
			"currency": conf.Currency,
		}).Error("Payment amount does not match hold total")
		s.compensate(ctx, hold, conf, models.AuditCodeAmountMismatch,
			fmt.Sprintf("expected %.2f %s, received %.2f %s", hold.TotalPrice, hold.Currency, conf.Amount, conf.Currency))
		return nil, models.ErrAmountMismatch
	}

	// Step 5: take the seats
	seats := hold.SeatCount()
	ok, err := s.trips.DecrementSeatsTx(ctx, tx, hold.TripID, seats)
	if err != nil {
		return nil, err
	}
	if !ok {
		tx.Rollback()
		log.WithField("seats", seats).Warn("Trip sold out before payment completed")
		s.closeHold(ctx, hold.ID)
		s.compensate(ctx, hold, conf, models.AuditCodeCapacityConflict, "not enough seats left on trip")
		return nil, models.ErrCapacityConflict
	}

	// Step 6: create the reservation
	ref, err := s.reservations.GenerateBookingReferenceTx(ctx, tx)
	if err != nil {
		return nil, err
	}

	reservation := &models.Reservation{
		TripID:           hold.TripID,
		PassengerID:      hold.PassengerID,
		PickupStationID:  hold.PickupStationID,
		DropoffStationID: hold.DropoffStationID,
		NumberOfBags:     hold.NumberOfBags,
		SegmentPrice:     hold.SegmentPrice,
		LuggageFee:       hold.LuggageFee,
		TotalPrice:       hold.TotalPrice,
		Currency:         hold.Currency,
		BookingReference: ref,
		Status:           models.ReservationStatusConfirmed,
		TempBookingID:    &hold.ID,
		PassengerInfo:    hold.PassengerInfo,
		Seats:            []string(hold.Seats),
	}
	if err := s.reservations.CreateTx(ctx, tx, reservation); err != nil {
		if database.IsUniqueViolation(err, database.BookedSeatsConstraint) {
			tx.Rollback()
			log.Warn("Seat taken by another reservation before payment completed")
			s.closeHold(ctx, hold.ID)
			s.compensate(ctx, hold, conf, models.AuditCodeSeatUnavailable, "a selected seat was booked by another passenger")
			return nil, models.ErrSeatUnavailable
		}
		return nil, err
	}

	// Step 7: record the payment and close the hold
	if err := s.payments.MarkSucceededTx(ctx, tx, &models.Payment{
		ReservationID:      &reservation.ID,
		TempBookingID:      &hold.ID,
		ProcessorPaymentID: conf.ProcessorPaymentID,
		Amount:             conf.Amount,
		Currency:           hold.Currency,
	}, now); err != nil {
		return nil, err
	}
	if err := s.holds.MarkCompletedTx(ctx, tx, hold.ID, ref); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit conversion: %w", err)
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventReservationCreated, models.PaymentSourceSystem).
		SetHold(hold.ID).
		SetReservation(reservation.ID).
		SetProcessorPaymentID(conf.ProcessorPaymentID))

	log.WithFields(logrus.Fields{
		"reservation_id":    reservation.ID,
		"booking_reference": ref,
		"trip_id":           hold.TripID,
		"seats":             seats,
	}).Info("Hold converted to reservation")

	return &models.ConversionResult{
		Outcome:          models.ConversionCreated,
		ReservationID:    reservation.ID,
		BookingReference: ref,
	}, nil
}

// OnPaymentFailed records a failed payment. The hold stays open so the
// passenger can retry until it expires.
func (s *ConversionService) OnPaymentFailed(ctx context.Context, conf PaymentConfirmation, status string) error {
	changed, err := s.payments.MarkFailed(ctx, &models.Payment{
		TempBookingID:      &conf.HoldID,
		ProcessorPaymentID: conf.ProcessorPaymentID,
		Amount:             conf.Amount,
		Currency:           conf.Currency,
	})
	if err != nil {
		return err
	}

	audit := models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceWebhook).
		SetHold(conf.HoldID).
		SetProcessorPaymentID(conf.ProcessorPaymentID).
		SetPaymentStatus(status)
	if !changed {
		audit.MarkAsDuplicate()
	}
	s.logAudit(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"hold_id":    conf.HoldID,
		"payment_id": conf.ProcessorPaymentID,
		"status":     status,
		"changed":    changed,
	}).Info("Payment failed for hold")
	return nil
}

// ============================================================================
// WEBHOOK
// ============================================================================

// ProcessWebhook records, parses and applies a card processor webhook.
// Every delivery is audited before parsing so malformed bodies are kept.
// The body is unsigned: it must name a payment this service started for the
// hold, and the outcome applied is the one the processor reports on a
// status check, not the one in the body.
func (s *ConversionService) ProcessWebhook(ctx context.Context, body []byte, meta WebhookMeta) (*models.ConversionResult, error) {
	received := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceWebhook).
		SetRawBody(string(body)).
		SetMetadata(meta.IPAddress, meta.UserAgent, meta.CorrelationID)

	payload, err := s.processor.ParseWebhook(body)
	if err != nil {
		received.SetError(err.Error(), "INVALID_PAYLOAD")
		s.logAudit(ctx, received)
		return nil, err
	}
	received.SetProcessorPaymentID(payload.UID).SetPaymentStatus(payload.PaymentStatus)

	holdID, err := uuid.Parse(payload.InvoiceID)
	if err != nil {
		received.SetError("invoice id is not a hold id", "INVALID_INVOICE")
		s.logAudit(ctx, received)
		return nil, models.ErrInvalidField("invoiceId", "must be a hold id")
	}
	received.SetHold(holdID)

	amount, err := strconv.ParseFloat(strings.TrimSpace(payload.Amount), 64)
	if err != nil {
		received.SetError("amount is not a number", "INVALID_AMOUNT")
		s.logAudit(ctx, received)
		return nil, models.ErrInvalidField("amount", "must be a number")
	}

	payment, err := s.payments.GetByProcessorID(ctx, payload.UID)
	if err != nil {
		return nil, err
	}
	if payment == nil || payment.TempBookingID == nil || *payment.TempBookingID != holdID {
		received.SetError("no checkout was started for this payment and hold", models.AuditCodeUnverified)
		s.logAudit(ctx, received)
		s.logger.WithFields(logrus.Fields{
			"payment_id": payload.UID,
			"invoice_id": payload.InvoiceID,
			"ip":         meta.IPAddress,
		}).Warn("Webhook for unknown payment rejected")
		return nil, models.ErrPaymentUnverified
	}
	s.logAudit(ctx, received)

	indicator := ""
	if payment.StatusIndicator != nil {
		indicator = *payment.StatusIndicator
	}
	status, err := s.processor.CheckStatus(ctx, payload.UID, indicator)
	if err != nil {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceProcessor).
			SetHold(holdID).
			SetProcessorPaymentID(payload.UID).
			SetError(err.Error(), "STATUS_CHECK_FAILED"))
		return nil, fmt.Errorf("failed to confirm payment with processor: %w", err)
	}
	if status.InvoiceID != "" && status.InvoiceID != payload.InvoiceID {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventError, models.PaymentSourceProcessor).
			SetHold(holdID).
			SetProcessorPaymentID(payload.UID).
			SetError("processor reports payment for invoice "+status.InvoiceID, models.AuditCodeUnverified))
		return nil, models.ErrPaymentUnverified
	}
	if !status.IsFinal() {
		// Redelivery retries the check once the processor has settled
		return nil, fmt.Errorf("payment %s is still %s at the processor", payload.UID, status.PaymentStatus)
	}

	// The processor's record wins over the webhook body
	if processorAmount, err := strconv.ParseFloat(strings.TrimSpace(status.Amount), 64); err == nil {
		amount = processorAmount
	}
	currency := payload.CurrencyCode
	if status.CurrencyCode != "" {
		currency = status.CurrencyCode
	}
	conf := PaymentConfirmation{
		HoldID:             holdID,
		ProcessorPaymentID: payload.UID,
		Amount:             amount,
		Currency:           currency,
	}

	if !status.IsSuccessful() {
		return nil, s.OnPaymentFailed(ctx, conf, status.PaymentStatus)
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceProcessor).
		SetHold(holdID).
		SetProcessorPaymentID(payload.UID).
		SetPaymentStatus(status.PaymentStatus))

	result, err := s.OnPaymentSucceeded(ctx, conf)
	if err != nil {
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventConversionFailed, models.PaymentSourceSystem).
			SetHold(holdID).
			SetProcessorPaymentID(payload.UID).
			SetError(err.Error(), conversionErrorCode(err)))
		return nil, err
	}
	return result, nil
}

// ============================================================================
// HELPERS
// ============================================================================

// handleMissingHold refunds a payment whose hold was cleaned up before the
// webhook arrived. Payments this service never started are only logged.
func (s *ConversionService) handleMissingHold(ctx context.Context, conf PaymentConfirmation) {
	payment, err := s.payments.GetByProcessorID(ctx, conf.ProcessorPaymentID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to look up payment for missing hold")
		return
	}
	if payment == nil {
		s.logger.WithField("payment_id", conf.ProcessorPaymentID).Warn("Payment for unknown hold, not compensating")
		return
	}
	if payment.Status == models.PaymentStatusSucceeded {
		return
	}

	s.runCompensation(ctx, CompensationRequest{
		HoldID:             conf.HoldID,
		ProcessorPaymentID: conf.ProcessorPaymentID,
		Amount:             conf.Amount,
		Currency:           payment.Currency,
		Code:               models.AuditCodeHoldExpired,
		Reason:             "payment arrived after the hold was cleaned up",
	})
}

// handleStaleCheckout refunds a captured payment from an earlier checkout
// of the hold. Payments this service never started are only logged.
func (s *ConversionService) handleStaleCheckout(ctx context.Context, hold *models.TempBooking, conf PaymentConfirmation) {
	payment, err := s.payments.GetByProcessorID(ctx, conf.ProcessorPaymentID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to look up payment for stale checkout")
		return
	}
	if payment == nil || payment.TempBookingID == nil || *payment.TempBookingID != hold.ID {
		s.logger.WithFields(logrus.Fields{
			"hold_id":    hold.ID,
			"payment_id": conf.ProcessorPaymentID,
		}).Warn("Payment was not started for this hold, not compensating")
		return
	}

	s.compensate(ctx, hold, conf, models.AuditCodeStaleCheckout, "payment belongs to an earlier checkout of this hold")
}

// checkExtraPayment refunds a second payment made for an already converted hold
func (s *ConversionService) checkExtraPayment(ctx context.Context, res *models.Reservation, conf PaymentConfirmation) {
	payment, err := s.payments.GetByProcessorID(ctx, conf.ProcessorPaymentID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to look up payment for converted hold")
		return
	}
	if payment != nil && payment.ReservationID != nil && *payment.ReservationID == res.ID {
		return
	}

	s.runCompensation(ctx, CompensationRequest{
		HoldID:             conf.HoldID,
		ProcessorPaymentID: conf.ProcessorPaymentID,
		Amount:             conf.Amount,
		Currency:           res.Currency,
		Code:               models.AuditCodeDuplicatePayment,
		Reason:             fmt.Sprintf("hold already converted to %s", res.BookingReference),
	})
}

func (s *ConversionService) compensate(ctx context.Context, hold *models.TempBooking, conf PaymentConfirmation, code, reason string) {
	s.runCompensation(ctx, CompensationRequest{
		HoldID:             hold.ID,
		ProcessorPaymentID: conf.ProcessorPaymentID,
		Amount:             conf.Amount,
		Currency:           hold.Currency,
		Code:               code,
		Reason:             reason,
	})
}

func (s *ConversionService) runCompensation(ctx context.Context, req CompensationRequest) {
	if err := s.compensator.Compensate(ctx, req); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"hold_id":    req.HoldID,
			"payment_id": req.ProcessorPaymentID,
			"code":       req.Code,
		}).Error("CRITICAL: Failed to request compensation")
	}
}

// closeHold expires a hold that can no longer be fulfilled
func (s *ConversionService) closeHold(ctx context.Context, holdID uuid.UUID) {
	if _, err := s.holds.MarkExpired(ctx, holdID); err != nil {
		s.logger.WithError(err).WithField("hold_id", holdID).Warn("Failed to close unfulfillable hold")
	}
}

func (s *ConversionService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithField("event_type", audit.EventType).Warn("Failed to write payment audit")
	}
}

func amountsMatch(expected, received float64) bool {
	return math.Abs(expected-received) < 0.01
}

func conversionErrorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrHoldExpired):
		return models.AuditCodeHoldExpired
	case errors.Is(err, models.ErrCapacityConflict):
		return models.AuditCodeCapacityConflict
	case errors.Is(err, models.ErrSeatUnavailable):
		return models.AuditCodeSeatUnavailable
	case errors.Is(err, models.ErrAmountMismatch):
		return models.AuditCodeAmountMismatch
	case errors.Is(err, models.ErrPaymentUnverified):
		return models.AuditCodeUnverified
	default:
		return "CONVERSION_ERROR"
	}
}
