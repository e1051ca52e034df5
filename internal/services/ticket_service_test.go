package services

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTicketService(t *testing.T) (*TicketService, sqlmock.Sqlmock, *logtest.Hook) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, hook := logtest.NewNullLogger()
	return NewTicketService(database.NewReservationRepository(sqlx.NewDb(db, "sqlmock")), logger), mock, hook
}

func expectReservationDetails(mock sqlmock.Sqlmock, reference string, status models.ReservationStatus) {
	id := uuid.New()
	mock.ExpectQuery(`WHERE r.booking_reference = \$1`).
		WithArgs(reference).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "trip_id", "booking_reference", "status", "total_price", "currency",
			"passenger_name", "passenger_email", "passenger_phone",
			"departure_time", "route_name", "pickup_station_name", "pickup_city",
			"dropoff_station_name", "dropoff_city", "driver_name", "vehicle_plate",
		}).AddRow(
			id.String(), uuid.New().String(), reference, string(status), 65.0, "EUR",
			"Ana Petrova", "ana@example.test", "+359888123456",
			fixedNow.Add(24*time.Hour), "Sofia - Varna", "Central Station", "Sofia",
			"Bus Terminal", "Varna", "Georgi", "CB1234AB",
		))
	mock.ExpectQuery(`SELECT seat_number FROM booked_seats WHERE reservation_id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"seat_number"}).AddRow("A1").AddRow("A2"))
}

func TestTicketService_GetReservation(t *testing.T) {
	ctx := context.Background()

	t.Run("Matching email", func(t *testing.T) {
		svc, mock, _ := newTicketService(t)
		expectReservationDetails(mock, "BK7Q2M4X", models.ReservationStatusConfirmed)

		details, err := svc.GetReservation(ctx, " bk7q2m4x", "ANA@example.test ")
		require.NoError(t, err)
		assert.Equal(t, "Sofia - Varna", details.RouteName)
		assert.Equal(t, []string{"A1", "A2"}, details.Seats)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Wrong email", func(t *testing.T) {
		svc, mock, _ := newTicketService(t)
		expectReservationDetails(mock, "BK7Q2M4X", models.ReservationStatusConfirmed)

		_, err := svc.GetReservation(ctx, "BK7Q2M4X", "someone@example.test")
		assert.ErrorIs(t, err, models.ErrReservationNotFound)
	})

	t.Run("Unknown reference", func(t *testing.T) {
		svc, mock, _ := newTicketService(t)
		mock.ExpectQuery(`WHERE r.booking_reference = \$1`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := svc.GetReservation(ctx, "NOPE0000", "ana@example.test")
		assert.ErrorIs(t, err, models.ErrReservationNotFound)
	})
}

func TestTicketService_GenerateETicket(t *testing.T) {
	ctx := context.Background()

	t.Run("Renders PDF", func(t *testing.T) {
		svc, mock, hook := newTicketService(t)
		expectReservationDetails(mock, "BK7Q2M4X", models.ReservationStatusConfirmed)

		doc, name, err := svc.GenerateETicket(ctx, "BK7Q2M4X", "ana@example.test")
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
		assert.Equal(t, "eticket-BK7Q2M4X.pdf", name)
		require.NotNil(t, hook.LastEntry())
		assert.Equal(t, "E-ticket generated", hook.LastEntry().Message)
	})

	t.Run("Cancelled reservation", func(t *testing.T) {
		svc, mock, _ := newTicketService(t)
		expectReservationDetails(mock, "BK7Q2M4X", models.ReservationStatusCancelled)

		_, _, err := svc.GenerateETicket(ctx, "BK7Q2M4X", "ana@example.test")
		assert.ErrorIs(t, err, models.ErrReservationNotFound)
	})
}
