package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/config"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/jmoiron/sqlx"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// tripFixture describes one scheduled trip over a linear route with one
// station per city. Every station allows both pickup and dropoff.
type tripFixture struct {
	TripID         uuid.UUID
	TemplateID     uuid.UUID
	PolicyID       uuid.UUID
	Cities         []string
	Stations       map[string]uuid.UUID
	Fares          []models.IntercityFare
	BasePrice      float64
	AvailableSeats int
	TotalSeats     int
	Departure      time.Time
	Arrival        *time.Time
	Status         models.TripStatus
	DriverRating   float64
	ExcessFee      float64
	MaxExtraBags   int
}

func newTripFixture(cities ...string) *tripFixture {
	f := &tripFixture{
		TripID:         uuid.New(),
		TemplateID:     uuid.New(),
		PolicyID:       uuid.New(),
		Cities:         cities,
		Stations:       make(map[string]uuid.UUID, len(cities)),
		BasePrice:      40,
		AvailableSeats: 8,
		TotalSeats:     8,
		Departure:      fixedNow.Add(48 * time.Hour),
		Status:         models.TripStatusScheduled,
		DriverRating:   4.5,
		ExcessFee:      5,
		MaxExtraBags:   2,
	}
	for _, c := range cities {
		f.Stations[c] = uuid.New()
	}
	return f
}

func (f *tripFixture) fare(from, to string, price float64) *tripFixture {
	f.Fares = append(f.Fares, models.IntercityFare{
		RouteTemplateID: f.TemplateID,
		FromCity:        from,
		ToCity:          to,
		Price:           price,
	})
	return f
}

func (f *tripFixture) candidateRows() *sqlmock.Rows {
	return candidateRows(f)
}

// candidateRows is one candidate page holding the given trips in order
func candidateRows(trips ...*tripFixture) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "route_template_id", "driver_id", "vehicle_id", "luggage_policy_id",
		"departure_time", "arrival_time", "available_seats", "total_seats", "status",
		"route_name", "base_price", "driver_name", "driver_rating",
		"vehicle_make", "vehicle_model", "vehicle_plate", "vehicle_seats",
		"excess_fee_per_bag", "max_additional_bags",
	})
	for _, f := range trips {
		var arrival interface{}
		if f.Arrival != nil {
			arrival = *f.Arrival
		}
		rows.AddRow(
			f.TripID.String(), f.TemplateID.String(), uuid.NewString(), uuid.NewString(), f.PolicyID.String(),
			f.Departure, arrival, f.AvailableSeats, f.TotalSeats, string(f.Status),
			"Coastal Line", f.BasePrice, "Rui", f.DriverRating,
			"Mercedes", "Vito", "AA-00-BB", f.TotalSeats,
			f.ExcessFee, f.MaxExtraBags,
		)
	}
	return rows
}

// expectContext queues the batch loads that follow a candidate query
func (f *tripFixture) expectContext(mock sqlmock.Sqlmock) {
	expectPageContext(mock, f)
}

// expectPageContext queues the batch loads for one page of trips
func expectPageContext(mock sqlmock.Sqlmock, trips ...*tripFixture) {
	stations := sqlmock.NewRows([]string{
		"trip_id", "station_id", "station_name", "city_name", "sequence_order",
		"is_pickup_point", "is_dropoff_point",
	})
	cities := sqlmock.NewRows([]string{"id", "route_template_id", "city_name", "country_code", "sequence_order"})
	fares := sqlmock.NewRows([]string{"route_template_id", "from_city", "to_city", "price"})
	for _, f := range trips {
		for i, c := range f.Cities {
			stations.AddRow(f.TripID.String(), f.Stations[c].String(), c+" Central", c, i+1, true, true)
			cities.AddRow(uuid.NewString(), f.TemplateID.String(), c, "PT", i+1)
		}
		for _, fare := range f.Fares {
			fares.AddRow(f.TemplateID.String(), fare.FromCity, fare.ToCity, fare.Price)
		}
	}
	mock.ExpectQuery(`FROM trip_stations ts`).WillReturnRows(stations)
	mock.ExpectQuery(`FROM route_cities`).WillReturnRows(cities)
	mock.ExpectQuery(`FROM intercity_fares`).WillReturnRows(fares)
}

// expectQuote queues the reads behind a single-trip quote
func (f *tripFixture) expectQuote(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`FROM trips t\s+JOIN route_templates rt .* WHERE t.id = \$1`).
		WillReturnRows(f.candidateRows())
	f.expectContext(mock)
}

type testRepos struct {
	db    *sqlx.DB
	mock  sqlmock.Sqlmock
	trips *database.TripRepository
}

func newTestSearchService(t *testing.T) (*SearchService, testRepos) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sdb := sqlx.NewDb(db, "sqlmock")
	logger, _ := logtest.NewNullLogger()
	trips := database.NewTripRepository(sdb)

	svc := NewSearchService(
		trips,
		database.NewRouteCatalogRepository(sdb),
		nil,
		NewSegmentPricer(logger),
		config.BookingConfig{
			SearchDefaultLimit: 20,
			SearchMaxLimit:     50,
			CountryTimeZones:   map[string]string{"PT": "Europe/Lisbon"},
		},
		"EUR",
		logger,
	)
	svc.now = func() time.Time { return fixedNow }
	return svc, testRepos{db: sdb, mock: mock, trips: trips}
}
