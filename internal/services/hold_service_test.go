package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeProcessor struct {
	calls   int
	session *PaymentSession
	err     error
}

func (p *fakeProcessor) InitiatePayment(_ context.Context, _ *InitiatePaymentParams) (*PaymentSession, error) {
	p.calls++
	return p.session, p.err
}

func (p *fakeProcessor) ParseWebhook(_ []byte) (*ProcessorWebhook, error) {
	return nil, errors.New("not used")
}

func (p *fakeProcessor) CheckStatus(_ context.Context, _, _ string) (*ProcessorPaymentStatus, error) {
	return nil, errors.New("not used")
}

func (p *fakeProcessor) IsConfigured() bool { return true }

func newHoldService(t *testing.T) (*HoldService, sqlmock.Sqlmock, *fakeProcessor) {
	t.Helper()
	search, repos := newTestSearchService(t)
	logger, _ := logtest.NewNullLogger()
	processor := &fakeProcessor{
		session: &PaymentSession{ProcessorPaymentID: "pay_1", StatusIndicator: "si_1", PaymentURL: "https://pay.example.com/c/pay_1"},
	}

	svc := NewHoldService(
		database.NewTempBookingRepository(repos.db),
		database.NewReservationRepository(repos.db),
		database.NewPaymentRepository(repos.db),
		database.NewPaymentAuditRepository(repos.db, logger),
		search,
		processor,
		HoldServiceConfig{
			HoldTTL:          15 * time.Minute,
			Currency:         "EUR",
			BcryptCost:       bcrypt.MinCost,
			CleanupBatchSize: 2,
		},
		logger,
	)
	svc.now = func() time.Time { return fixedNow }
	return svc, repos.mock, processor
}

func holdRequest(f *tripFixture, from, to string, seats []string, bags int) *models.CreateHoldRequest {
	return &models.CreateHoldRequest{
		TripID:           f.TripID,
		PickupStationID:  f.Stations[from],
		DropoffStationID: f.Stations[to],
		Seats:            seats,
		NumberOfBags:     bags,
		Passenger: models.PassengerInfo{
			Name:  "Ana Silva",
			Email: "ana@example.com",
			Phone: "+351912345678",
		},
	}
}

func hashToken(t *testing.T, token string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func TestHoldService_CreateHold(t *testing.T) {
	ctx := context.Background()

	t.Run("Prices segment with luggage", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B", "C").fare("A", "B", 10).fare("B", "C", 15)

		trip.expectQuote(mock)
		mock.ExpectQuery(`SELECT seat_number FROM booked_seats`).
			WillReturnRows(sqlmock.NewRows([]string{"seat_number"}))
		mock.ExpectExec(`INSERT INTO temp_bookings`).WillReturnResult(sqlmock.NewResult(0, 1))

		resp, created, err := svc.CreateHold(ctx, holdRequest(trip, "A", "C", []string{"1a", "1B"}, 3))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 25.0, resp.SegmentPrice)
		assert.Equal(t, models.PriceSourceHopSum, resp.PriceSource)
		assert.Equal(t, 10.0, resp.LuggageFee)
		assert.Equal(t, 60.0, resp.TotalPrice)
		assert.Equal(t, []string{"1A", "1B"}, resp.Seats)
		assert.Equal(t, models.TempBookingStatusPending, resp.Status)
		assert.Equal(t, fixedNow.Add(15*time.Minute), resp.ExpiresAt)
		assert.Len(t, resp.HoldToken, 48)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Reverse direction is rejected", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B", "C")
		trip.expectQuote(mock)

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "C", "A", []string{"1A"}, 0))
		assert.ErrorIs(t, err, models.ErrInvalidSegment)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Too many bags", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B", "C")
		trip.expectQuote(mock)
		mock.ExpectQuery(`SELECT seat_number FROM booked_seats`).
			WillReturnRows(sqlmock.NewRows([]string{"seat_number"}))

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "B", []string{"1A"}, 4))
		assert.True(t, models.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet(), "no hold is stored")
	})

	t.Run("Seat already sold", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")
		trip.expectQuote(mock)
		mock.ExpectQuery(`SELECT seat_number FROM booked_seats`).
			WillReturnRows(sqlmock.NewRows([]string{"seat_number"}).AddRow("2B"))

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "B", []string{"2A", "2B"}, 0))
		assert.ErrorIs(t, err, models.ErrSeatUnavailable)
		assert.Contains(t, err.Error(), "2B")
	})

	t.Run("More seats than left", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")
		trip.AvailableSeats = 1
		trip.expectQuote(mock)

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "B", []string{"2A", "2B"}, 0))
		assert.ErrorIs(t, err, models.ErrCapacityConflict)
	})

	t.Run("Departed trip", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")
		trip.Departure = fixedNow.Add(-time.Minute)
		trip.expectQuote(mock)

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "B", []string{"2A"}, 0))
		assert.ErrorIs(t, err, models.ErrTripNotBookable)
	})

	t.Run("Unknown trip", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")
		mock.ExpectQuery(`WHERE t.id = \$1`).WillReturnRows(noRows())

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "B", []string{"2A"}, 0))
		assert.ErrorIs(t, err, models.ErrTripNotFound)
	})

	t.Run("Same pickup and dropoff", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")

		_, _, err := svc.CreateHold(ctx, holdRequest(trip, "A", "A", []string{"2A"}, 0))
		assert.True(t, models.IsValidationError(err))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Idempotent retry returns existing hold", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		trip := newTripFixture("A", "B")
		existing := openHold("1A")
		existing.TripID = trip.TripID
		existing.Status = models.TempBookingStatusPending
		key := "checkout-7f3a"

		mock.ExpectQuery(`FROM temp_bookings WHERE idempotency_key = \$1`).
			WithArgs(key).
			WillReturnRows(holdRows(existing))
		mock.ExpectExec(`SET hold_token_hash = \$2`).WillReturnResult(sqlmock.NewResult(0, 1))

		req := holdRequest(trip, "A", "B", []string{"1A"}, 0)
		req.IdempotencyKey = &key
		resp, created, err := svc.CreateHold(ctx, req)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, existing.ID, resp.HoldID)
		assert.NotEmpty(t, resp.HoldToken)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHoldService_GetHold(t *testing.T) {
	ctx := context.Background()
	hold := openHold("1A")
	hold.HoldTokenHash = hashToken(t, "secret-token")

	t.Run("Valid token", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))

		resp, err := svc.GetHold(ctx, hold.ID, "secret-token")
		require.NoError(t, err)
		assert.Equal(t, hold.ID, resp.HoldID)
		assert.Empty(t, resp.HoldToken)
	})

	t.Run("Wrong token", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))

		_, err := svc.GetHold(ctx, hold.ID, "guess")
		assert.ErrorIs(t, err, models.ErrInvalidHoldToken)
	})

	t.Run("Lapsed hold reads as expired", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		lapsed := *hold
		lapsed.ExpiresAt = fixedNow.Add(-time.Minute)
		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(&lapsed))

		resp, err := svc.GetHold(ctx, hold.ID, "secret-token")
		require.NoError(t, err)
		assert.Equal(t, models.TempBookingStatusExpired, resp.Status)
	})

	t.Run("Missing hold", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(noRows())

		_, err := svc.GetHold(ctx, uuid.New(), "secret-token")
		assert.ErrorIs(t, err, models.ErrHoldNotFound)
	})
}

func TestHoldService_AbandonHold(t *testing.T) {
	svc, mock, _ := newHoldService(t)
	hold := openHold("1A")
	hold.HoldTokenHash = hashToken(t, "secret-token")

	mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))
	mock.ExpectExec(`SET status = 'expired'`).WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.AbandonHold(context.Background(), hold.ID, "secret-token"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHoldService_InitiatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Hands hold to processor", func(t *testing.T) {
		svc, mock, processor := newHoldService(t)
		hold := openHold("1A", "1B")
		hold.Status = models.TempBookingStatusPending
		hold.HoldTokenHash = hashToken(t, "secret-token")

		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))
		mock.ExpectExec(`INSERT INTO payments`).
			WithArgs(sqlmock.AnyArg(), hold.ID, "pay_1", hold.TotalPrice, "EUR", models.PaymentStatusPending, "si_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`SET status = 'processing'`).
			WithArgs(sqlmock.AnyArg(), "pay_1", fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		resp, err := svc.InitiatePayment(ctx, hold.ID, "secret-token")
		require.NoError(t, err)
		assert.Equal(t, 1, processor.calls)
		assert.Equal(t, "pay_1", resp.PaymentIntentID)
		assert.Equal(t, "https://pay.example.com/c/pay_1", resp.PaymentURL)
		assert.Equal(t, hold.TotalPrice, resp.Amount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Expired hold is not sent to processor", func(t *testing.T) {
		svc, mock, processor := newHoldService(t)
		hold := openHold("1A")
		hold.ExpiresAt = fixedNow.Add(-time.Second)
		hold.HoldTokenHash = hashToken(t, "secret-token")

		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))

		_, err := svc.InitiatePayment(ctx, hold.ID, "secret-token")
		assert.ErrorIs(t, err, models.ErrHoldExpired)
		assert.Zero(t, processor.calls)
	})

	t.Run("Converted hold", func(t *testing.T) {
		svc, mock, _ := newHoldService(t)
		hold := openHold("1A")
		hold.Status = models.TempBookingStatusCompleted
		hold.HoldTokenHash = hashToken(t, "secret-token")

		mock.ExpectQuery(`FROM temp_bookings WHERE id = \$1`).WillReturnRows(holdRows(hold))

		_, err := svc.InitiatePayment(ctx, hold.ID, "secret-token")
		assert.ErrorIs(t, err, models.ErrHoldClosed)
	})
}

func TestHoldService_CleanupExpiredHolds(t *testing.T) {
	svc, mock, _ := newHoldService(t)

	mock.ExpectExec(`DELETE FROM temp_bookings`).
		WithArgs(fixedNow, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM temp_bookings`).
		WithArgs(fixedNow, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := svc.CleanupExpiredHolds(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
