package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type recordingCompensator struct {
	mu       sync.Mutex
	requests []CompensationRequest
}

func (c *recordingCompensator) Compensate(_ context.Context, req CompensationRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return nil
}

func (c *recordingCompensator) codes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.requests))
	for _, r := range c.requests {
		out = append(out, r.Code)
	}
	return out
}

// statusProcessor answers status checks with a fixed processor record
type statusProcessor struct {
	*CardProcessorService
	status  *ProcessorPaymentStatus
	err     error
	checked []string
}

func (p *statusProcessor) CheckStatus(_ context.Context, uid, _ string) (*ProcessorPaymentStatus, error) {
	p.checked = append(p.checked, uid)
	if p.err != nil {
		return nil, p.err
	}
	return p.status, nil
}

func processorOf(svc *ConversionService) *statusProcessor {
	return svc.processor.(*statusProcessor)
}

func newConversionService(t *testing.T) (*ConversionService, sqlmock.Sqlmock, *recordingCompensator) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	logger, _ := logtest.NewNullLogger()
	comp := &recordingCompensator{}

	svc := NewConversionService(
		database.NewTempBookingRepository(sdb),
		database.NewReservationRepository(sdb),
		database.NewTripRepository(sdb),
		database.NewPaymentRepository(sdb),
		database.NewPaymentAuditRepository(sdb, logger),
		&statusProcessor{
			CardProcessorService: NewCardProcessorService(&config.PaymentConfig{}, logger),
			status:               &ProcessorPaymentStatus{Status: "success", PaymentStatus: "SUCCESS"},
		},
		comp,
		logger,
	)
	svc.now = func() time.Time { return fixedNow }
	return svc, mock, comp
}

func openHold(seats ...string) *models.TempBooking {
	intent := "pay_1"
	return &models.TempBooking{
		ID:              uuid.New(),
		TripID:          uuid.New(),
		Seats:           models.SeatList(seats),
		SegmentPrice:    25,
		TotalPrice:      roundMoney(25 * float64(len(seats))),
		Currency:        "EUR",
		Status:          models.TempBookingStatusProcessing,
		PaymentIntentID: &intent,
		ExpiresAt:       fixedNow.Add(10 * time.Minute),
		PassengerInfo: models.PassengerInfo{
			Name:  "Ana Silva",
			Email: "ana@example.com",
			Phone: "+351912345678",
		},
	}
}

func holdRows(h *models.TempBooking) *sqlmock.Rows {
	var intent interface{}
	if h.PaymentIntentID != nil {
		intent = *h.PaymentIntentID
	}
	return sqlmock.NewRows([]string{
		"id", "trip_id", "pickup_station_id", "dropoff_station_id", "seats",
		"number_of_bags", "segment_price", "luggage_fee", "total_price", "currency",
		"payment_intent_id", "status", "expires_at", "hold_token_hash",
		"passenger_name", "passenger_email", "passenger_phone",
	}).AddRow(
		h.ID.String(), h.TripID.String(), uuid.NewString(), uuid.NewString(), "{"+strings.Join(h.Seats, ",")+"}",
		h.NumberOfBags, h.SegmentPrice, h.LuggageFee, h.TotalPrice, h.Currency,
		intent, string(h.Status), h.ExpiresAt, h.HoldTokenHash,
		h.Name, h.Email, h.Phone,
	)
}

// paymentRows is the payment row initiation recorded for a hold's checkout
func paymentRows(holdID uuid.UUID, uid string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "temp_booking_id", "processor_payment_id", "amount", "currency", "status", "status_indicator"}).
		AddRow(uuid.NewString(), holdID.String(), uid, 25.0, "EUR", "pending", "si_"+uid)
}

func webhookBody(h *models.TempBooking, uid, status string) []byte {
	return []byte(`{"uid":"` + uid + `","invoiceId":"` + h.ID.String() +
		`","amount":"25.00","currencyCode":"EUR","paymentStatus":"` + status + `"}`)
}

func noRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id"})
}

func confirmationFor(h *models.TempBooking, paymentID string) PaymentConfirmation {
	return PaymentConfirmation{
		HoldID:             h.ID,
		ProcessorPaymentID: paymentID,
		Amount:             h.TotalPrice,
		Currency:           h.Currency,
	}
}

// expectLockedHold queues the first two reads of a conversion
func expectLockedHold(mock sqlmock.Sqlmock, h *models.TempBooking, existing *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1 FOR UPDATE`).WillReturnRows(holdRows(h))
	if existing == nil {
		existing = noRows()
	}
	mock.ExpectQuery(`FROM reservations r WHERE r.temp_booking_id = \$1`).WillReturnRows(existing)
}

func expectSuccessfulConversion(mock sqlmock.Sqlmock, h *models.TempBooking) {
	expectLockedHold(mock, h, nil)
	mock.ExpectExec(`UPDATE trips\s+SET available_seats = available_seats - \$2`).
		WithArgs(sqlmock.AnyArg(), h.SeatCount()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations WHERE booking_reference = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO reservations`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedNow, fixedNow))
	for range h.Seats {
		mock.ExpectExec(`INSERT INTO booked_seats`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'completed'`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestConversionService_OnPaymentSucceeded(t *testing.T) {
	ctx := context.Background()

	t.Run("Converts open hold", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A", "1B")
		expectSuccessfulConversion(mock, hold)

		result, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		require.NoError(t, err)
		assert.Equal(t, models.ConversionCreated, result.Outcome)
		assert.Regexp(t, `^IC-[A-HJ-NP-Z2-9]{8}$`, result.BookingReference)
		assert.NotEqual(t, uuid.Nil, result.ReservationID)
		assert.Empty(t, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Duplicate delivery returns existing reservation", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		hold.Status = models.TempBookingStatusCompleted
		reservationID := uuid.New()

		expectLockedHold(mock, hold, sqlmock.NewRows([]string{"id", "booking_reference", "currency", "status"}).
			AddRow(reservationID.String(), "IC-7KQ2MZ4P", "EUR", "confirmed"))
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"processor_payment_id", "reservation_id", "status"}).
				AddRow("pay_1", reservationID.String(), "succeeded"))

		result, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		require.NoError(t, err)
		assert.Equal(t, models.ConversionAlreadyConverted, result.Outcome)
		assert.Equal(t, reservationID, result.ReservationID)
		assert.Equal(t, "IC-7KQ2MZ4P", result.BookingReference)
		assert.Empty(t, comp.codes(), "a redelivered webhook is not a second payment")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Second payment for converted hold is refunded", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		hold.Status = models.TempBookingStatusCompleted

		expectLockedHold(mock, hold, sqlmock.NewRows([]string{"id", "booking_reference", "currency"}).
			AddRow(uuid.NewString(), "IC-7KQ2MZ4P", "EUR"))
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(noRows())

		result, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_2"))
		require.NoError(t, err)
		assert.Equal(t, models.ConversionAlreadyConverted, result.Outcome)
		assert.Equal(t, []string{models.AuditCodeDuplicatePayment}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Expired hold fails with expired reason", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		hold.ExpiresAt = fixedNow.Add(-time.Second)

		expectLockedHold(mock, hold, nil)
		mock.ExpectExec(`SET status = 'expired'`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		result, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrHoldExpired)
		assert.NotErrorIs(t, err, models.ErrCapacityConflict)
		assert.Equal(t, []string{models.AuditCodeHoldExpired}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Expiry boundary is exclusive", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		hold.ExpiresAt = fixedNow

		expectLockedHold(mock, hold, nil)
		mock.ExpectExec(`SET status = 'expired'`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		_, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		assert.ErrorIs(t, err, models.ErrHoldExpired)
	})

	t.Run("Hold already cleaned up", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		holdID := uuid.New()

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(noRows())
		mock.ExpectQuery(`FROM reservations r WHERE r.temp_booking_id = \$1`).WillReturnRows(noRows())
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"processor_payment_id", "status", "currency"}).
				AddRow("pay_1", "pending", "EUR"))

		result, err := svc.OnPaymentSucceeded(ctx, PaymentConfirmation{HoldID: holdID, ProcessorPaymentID: "pay_1", Amount: 25})
		require.NoError(t, err)
		assert.Equal(t, models.ConversionHoldNotFound, result.Outcome)
		assert.Equal(t, []string{models.AuditCodeHoldExpired}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Amount mismatch is not converted", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")

		expectLockedHold(mock, hold, nil)
		mock.ExpectRollback()

		conf := confirmationFor(hold, "pay_1")
		conf.Amount = hold.TotalPrice - 5
		_, err := svc.OnPaymentSucceeded(ctx, conf)
		assert.ErrorIs(t, err, models.ErrAmountMismatch)
		assert.Equal(t, []string{models.AuditCodeAmountMismatch}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Seat sold to another reservation", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("3C")

		expectLockedHold(mock, hold, nil)
		mock.ExpectExec(`UPDATE trips`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM reservations`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery(`INSERT INTO reservations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(fixedNow, fixedNow))
		mock.ExpectExec(`INSERT INTO booked_seats`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: database.BookedSeatsConstraint})
		mock.ExpectRollback()
		mock.ExpectExec(`SET status = 'expired'`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		assert.ErrorIs(t, err, models.ErrSeatUnavailable)
		assert.Equal(t, []string{models.AuditCodeSeatUnavailable}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConversionService_OnPaymentSucceeded_CurrentCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("Pending hold without a checkout", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		hold.Status = models.TempBookingStatusPending
		hold.PaymentIntentID = nil

		expectLockedHold(mock, hold, nil)
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(noRows())

		result, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.Empty(t, comp.codes(), "nothing was charged through this service")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Payment from another hold", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")

		expectLockedHold(mock, hold, nil)
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).
			WillReturnRows(paymentRows(uuid.New(), "pay_other"))

		_, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_other"))
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.Empty(t, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Earlier checkout of the same hold is refunded", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		current := "pay_2"
		hold.PaymentIntentID = &current

		expectLockedHold(mock, hold, nil)
		mock.ExpectRollback()
		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).
			WillReturnRows(paymentRows(hold.ID, "pay_1"))

		_, err := svc.OnPaymentSucceeded(ctx, confirmationFor(hold, "pay_1"))
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.Equal(t, []string{models.AuditCodeStaleCheckout}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestConversionService_LastSeat(t *testing.T) {
	// Two holds race for the single remaining seat. The conditional
	// decrement lets the first through and matches no row for the second.
	ctx := context.Background()
	svc, mock, comp := newConversionService(t)

	first := openHold("4D")
	second := openHold("4C")
	second.TripID = first.TripID
	intentA, intentB := "pay_a", "pay_b"
	first.PaymentIntentID = &intentA
	second.PaymentIntentID = &intentB

	expectSuccessfulConversion(mock, first)

	expectLockedHold(mock, second, nil)
	mock.ExpectExec(`available_seats >= \$2`).
		WithArgs(sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectExec(`SET status = 'expired'`).WillReturnResult(sqlmock.NewResult(0, 1))

	r1, err1 := svc.OnPaymentSucceeded(ctx, confirmationFor(first, "pay_a"))
	r2, err2 := svc.OnPaymentSucceeded(ctx, confirmationFor(second, "pay_b"))

	require.NoError(t, err1)
	assert.Equal(t, models.ConversionCreated, r1.Outcome)
	assert.Nil(t, r2)
	assert.ErrorIs(t, err2, models.ErrCapacityConflict)
	assert.Equal(t, []string{models.AuditCodeCapacityConflict}, comp.codes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConversionService_OnPaymentFailed(t *testing.T) {
	svc, mock, comp := newConversionService(t)
	hold := openHold("1A")

	mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.OnPaymentFailed(context.Background(), confirmationFor(hold, "pay_1"), "FAILED")
	require.NoError(t, err)
	assert.Empty(t, comp.codes())
	assert.NoError(t, mock.ExpectationsWereMet(), "the hold itself is left untouched")
}

func TestConversionService_ProcessWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("Malformed body is audited and rejected", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.ProcessWebhook(ctx, []byte(`{not json`), WebhookMeta{IPAddress: "203.0.113.7"})
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invoice that is not a hold id", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"uid":"pay_1","invoiceId":"INV-42","amount":"25.00","paymentStatus":"SUCCESS"}`
		_, err := svc.ProcessWebhook(ctx, []byte(body), WebhookMeta{})
		assert.True(t, models.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Failed payment", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{PaymentStatus: "FAILED", InvoiceID: hold.ID.String()}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "FAILED"), WebhookMeta{})
		require.NoError(t, err)
		assert.Nil(t, result)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Successful payment converts the hold", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{
			Status: "success", PaymentStatus: "SUCCESS", Amount: "25.00", CurrencyCode: "EUR", InvoiceID: hold.ID.String(),
		}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		expectSuccessfulConversion(mock, hold)

		result, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		require.NoError(t, err)
		assert.Equal(t, models.ConversionCreated, result.Outcome)
		assert.Equal(t, []string{"pay_1"}, processorOf(svc).checked)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Unknown payment id is not converted", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WithArgs("forged").WillReturnRows(noRows())
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.ProcessWebhook(ctx, webhookBody(hold, "forged", "SUCCESS"), WebhookMeta{IPAddress: "198.51.100.4"})
		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.Empty(t, processorOf(svc).checked, "the processor is not asked about payments it was never sent")
		assert.Empty(t, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Payment started for a different hold", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(uuid.New(), "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Processor outcome overrides the body", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{PaymentStatus: "FAILED"}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payments`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		require.NoError(t, err)
		assert.Nil(t, result, "a body claiming success does not create a reservation")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Processor amount is the one checked", func(t *testing.T) {
		svc, mock, comp := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{PaymentStatus: "SUCCESS", Amount: "0.50", CurrencyCode: "EUR"}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		expectLockedHold(mock, hold, nil)
		mock.ExpectRollback()
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		assert.ErrorIs(t, err, models.ErrAmountMismatch)
		assert.Equal(t, []string{models.AuditCodeAmountMismatch}, comp.codes())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Invoice mismatch at the processor", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{PaymentStatus: "SUCCESS", InvoiceID: uuid.NewString()}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		assert.ErrorIs(t, err, models.ErrPaymentUnverified)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Status check failure asks for redelivery", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).err = errors.New("dial tcp: i/o timeout")

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		_, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrPaymentUnverified)
		assert.False(t, models.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Payment still pending at the processor", func(t *testing.T) {
		svc, mock, _ := newConversionService(t)
		hold := openHold("1A")
		processorOf(svc).status = &ProcessorPaymentStatus{PaymentStatus: "pending"}

		mock.ExpectQuery(`FROM payments WHERE processor_payment_id = \$1`).WillReturnRows(paymentRows(hold.ID, "pay_1"))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		result, err := svc.ProcessWebhook(ctx, webhookBody(hold, "pay_1", "SUCCESS"), WebhookMeta{})
		assert.Nil(t, result)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAuditCompensator_Compensate(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	req := CompensationRequest{
		HoldID:             uuid.New(),
		ProcessorPaymentID: "pay_1",
		Amount:             25,
		Currency:           "EUR",
		Code:               models.AuditCodeHoldExpired,
		Reason:             "payment arrived after the hold expired",
	}

	t.Run("Records refund request", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		comp := NewAuditCompensator(database.NewPaymentAuditRepository(sqlx.NewDb(db, "sqlmock"), logger), logger)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WithArgs("pay_1", models.PaymentEventRefundRequested).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, comp.Compensate(ctx, req))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Requests each refund once", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		comp := NewAuditCompensator(database.NewPaymentAuditRepository(sqlx.NewDb(db, "sqlmock"), logger), logger)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM payment_audits`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		require.NoError(t, comp.Compensate(ctx, req))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
