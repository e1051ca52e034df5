package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/database"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// TripService lets drivers schedule and operate their trips
type TripService struct {
	trips        *database.TripRepository
	catalog      *database.RouteCatalogRepository
	fleet        *database.FleetRepository
	reservations *database.ReservationRepository
	logger       *logrus.Logger
	now          func() time.Time
}

// NewTripService creates a new TripService
func NewTripService(
	trips *database.TripRepository,
	catalog *database.RouteCatalogRepository,
	fleet *database.FleetRepository,
	reservations *database.ReservationRepository,
	logger *logrus.Logger,
) *TripService {
	return &TripService{
		trips:        trips,
		catalog:      catalog,
		fleet:        fleet,
		reservations: reservations,
		logger:       logger,
		now:          time.Now,
	}
}

// ScheduleTrip creates a dated trip on one of the driver's active templates.
// Seat capacity comes from the vehicle. Without an explicit luggage policy
// the driver's default policy is attached, if any.
func (s *TripService) ScheduleTrip(ctx context.Context, driver *models.Driver, req *models.ScheduleTripRequest) (*models.Trip, error) {
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	// Template
	tmpl, err := s.catalog.GetRouteTemplate(ctx, req.RouteTemplateID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, models.ErrInvalidField("route_template_id", "route template not found")
	}
	if tmpl.DriverID != driver.ID {
		return nil, models.ErrForbidden
	}
	if !tmpl.IsActive() {
		return nil, models.ErrInvalidField("route_template_id", "route template is not active")
	}
	if err := validateServedStations(tmpl, req.Stations); err != nil {
		return nil, err
	}

	// Vehicle
	vehicle, err := s.fleet.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}
	if vehicle == nil {
		return nil, models.ErrInvalidField("vehicle_id", "vehicle not found")
	}
	if vehicle.DriverID != driver.ID {
		return nil, models.ErrForbidden
	}
	if vehicle.SeatCapacity <= 0 {
		return nil, models.ErrInvalidField("vehicle_id", "vehicle has no seats")
	}

	// Luggage policy
	policyID := req.LuggagePolicyID
	if policyID != nil {
		policy, err := s.fleet.GetLuggagePolicy(ctx, *policyID)
		if err != nil {
			return nil, err
		}
		if policy == nil || policy.DriverID != driver.ID {
			return nil, models.ErrInvalidField("luggage_policy_id", "luggage policy not found")
		}
	} else {
		policy, err := s.fleet.GetDefaultLuggagePolicy(ctx, driver.ID)
		if err != nil {
			return nil, err
		}
		if policy != nil {
			policyID = &policy.ID
		}
	}

	trip := &models.Trip{
		RouteTemplateID: tmpl.ID,
		DriverID:        driver.ID,
		VehicleID:       vehicle.ID,
		LuggagePolicyID: policyID,
		DepartureTime:   req.DepartureTime,
		ArrivalTime:     req.ArrivalTime,
		TotalSeats:      vehicle.SeatCapacity,
	}
	if err := s.trips.Create(ctx, trip, req.Stations); err != nil {
		return nil, fmt.Errorf("failed to schedule trip: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":     trip.ID,
		"driver_id":   driver.ID,
		"template_id": tmpl.ID,
		"departure":   trip.DepartureTime,
		"seats":       trip.TotalSeats,
	}).Info("Trip scheduled")

	return s.trips.GetByID(ctx, trip.ID)
}

// validateServedStations checks that every station belongs to the template
// and that passengers can board somewhere and alight further along
func validateServedStations(tmpl *models.RouteTemplate, selections []models.TripStationSelection) error {
	order := make(map[uuid.UUID]int)
	for _, c := range tmpl.Cities {
		for _, st := range c.Stations {
			order[st.ID] = c.SequenceOrder
		}
	}

	firstPickup, lastDropoff := -1, -1
	for _, sel := range selections {
		seq, ok := order[sel.StationID]
		if !ok {
			return models.ErrInvalidField("stations", fmt.Sprintf("station %s is not on this route", sel.StationID))
		}
		if sel.IsPickup && (firstPickup == -1 || seq < firstPickup) {
			firstPickup = seq
		}
		if sel.IsDropoff && seq > lastDropoff {
			lastDropoff = seq
		}
	}
	if firstPickup == -1 || lastDropoff == -1 || firstPickup >= lastDropoff {
		return models.ErrInvalidField("stations", "must include a pickup before a dropoff in a later city")
	}
	return nil
}

// UpdateTripStatus moves a driver's trip through its lifecycle
func (s *TripService) UpdateTripStatus(ctx context.Context, driver *models.Driver, tripID uuid.UUID, next models.TripStatus) (*models.Trip, error) {
	trip, err := s.ownedTrip(ctx, driver, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status.IsTerminal() {
		return nil, models.ErrInvalidField("status", fmt.Sprintf("trip is already %s", trip.Status))
	}
	if !trip.Status.CanTransitionTo(next) {
		return nil, models.ErrInvalidField("status",
			fmt.Sprintf("cannot move trip from %s to %s", trip.Status, next))
	}

	ok, err := s.trips.UpdateStatus(ctx, trip.ID, trip.Status, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrInvalidInput("trip status changed concurrently, reload and retry")
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id": trip.ID,
		"from":    trip.Status,
		"to":      next,
	}).Info("Trip status updated")

	trip.Status = next
	return trip, nil
}

// ListReservations returns the passengers booked on a driver's trip
func (s *TripService) ListReservations(ctx context.Context, driver *models.Driver, tripID uuid.UUID) ([]models.Reservation, error) {
	if _, err := s.ownedTrip(ctx, driver, tripID); err != nil {
		return nil, err
	}
	return s.reservations.ListByTrip(ctx, tripID)
}

// CancelReservation cancels a reservation on a driver's trip and returns
// its seats to the trip
func (s *TripService) CancelReservation(ctx context.Context, driver *models.Driver, reservationID uuid.UUID) (*models.Reservation, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, models.ErrReservationNotFound
	}
	trip, err := s.ownedTrip(ctx, driver, res.TripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == models.TripStatusCompleted {
		return nil, models.ErrInvalidInput("reservations on a completed trip cannot be cancelled")
	}
	if !res.CanBeCancelled() {
		return nil, models.ErrInvalidInput(fmt.Sprintf("reservation is %s and cannot be cancelled", res.Status))
	}

	tx, err := s.reservations.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cancelled, err := s.reservations.CancelTx(ctx, tx, res.ID)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, models.ErrInvalidInput("reservation is no longer active")
	}
	restored, err := s.trips.IncrementSeatsTx(ctx, tx, res.TripID, res.SeatCount)
	if err != nil {
		return nil, err
	}
	if !restored {
		return nil, fmt.Errorf("seat count for trip %s would exceed capacity", res.TripID)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"reservation_id":    res.ID,
		"booking_reference": res.BookingReference,
		"trip_id":           res.TripID,
		"seats":             res.SeatCount,
	}).Info("Reservation cancelled by driver")

	res.Status = models.ReservationStatusCancelled
	return res, nil
}

func (s *TripService) ownedTrip(ctx context.Context, driver *models.Driver, tripID uuid.UUID) (*models.Trip, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip == nil {
		return nil, models.ErrTripNotFound
	}
	if trip.DriverID != driver.ID {
		return nil, models.ErrForbidden
	}
	return trip, nil
}
