package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// TripManager is the driver side of the trip registry
type TripManager interface {
	ScheduleTrip(ctx context.Context, driver *models.Driver, req *models.ScheduleTripRequest) (*models.Trip, error)
	UpdateTripStatus(ctx context.Context, driver *models.Driver, tripID uuid.UUID, next models.TripStatus) (*models.Trip, error)
	ListReservations(ctx context.Context, driver *models.Driver, tripID uuid.UUID) ([]models.Reservation, error)
	CancelReservation(ctx context.Context, driver *models.Driver, reservationID uuid.UUID) (*models.Reservation, error)
}

// RoundTripLinker pairs a driver's outbound and return trips
type RoundTripLinker interface {
	CreateLink(ctx context.Context, driver *models.Driver, req *models.CreateRoundTripLinkRequest) (*models.RoundTripLink, error)
}

// DriverHandler handles trip management for drivers.
// All routes sit behind AuthMiddleware and RequireDriver.
type DriverHandler struct {
	trips  TripManager
	links  RoundTripLinker
	logger *logrus.Logger
}

// NewDriverHandler creates a new driver handler
func NewDriverHandler(trips TripManager, links RoundTripLinker, logger *logrus.Logger) *DriverHandler {
	return &DriverHandler{
		trips:  trips,
		links:  links,
		logger: logger,
	}
}

// ScheduleTrip handles POST /api/v1/driver/trips
// @Summary Schedule a trip on one of the driver's route templates
// @Tags Driver
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param trip body models.ScheduleTripRequest true "Trip"
// @Success 201 {object} models.Trip
// @Failure 400 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/driver/trips [post]
func (h *DriverHandler) ScheduleTrip(c *gin.Context) {
	driver, ok := h.driver(c)
	if !ok {
		return
	}

	var req models.ScheduleTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}

	trip, err := h.trips.ScheduleTrip(c.Request.Context(), driver, &req)
	if err != nil {
		respondError(c, h.logger, err, "schedule trip")
		return
	}
	c.JSON(http.StatusCreated, trip)
}

// UpdateTripStatus handles PATCH /api/v1/driver/trips/:id/status
// @Summary Move a trip through its lifecycle
// @Tags Driver
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trip ID"
// @Param status body models.UpdateTripStatusRequest true "New status"
// @Success 200 {object} models.Trip
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/driver/trips/{id}/status [patch]
func (h *DriverHandler) UpdateTripStatus(c *gin.Context) {
	driver, ok := h.driver(c)
	if !ok {
		return
	}
	tripID, ok := pathUUID(c, "id", "Invalid trip ID")
	if !ok {
		return
	}

	var req models.UpdateTripStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}

	trip, err := h.trips.UpdateTripStatus(c.Request.Context(), driver, tripID, req.Status)
	if err != nil {
		respondError(c, h.logger, err, "update trip status")
		return
	}
	c.JSON(http.StatusOK, trip)
}

// ListTripReservations handles GET /api/v1/driver/trips/:id/reservations
// @Summary List reservations on a trip
// @Tags Driver
// @Produce json
// @Security BearerAuth
// @Param id path string true "Trip ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/driver/trips/{id}/reservations [get]
func (h *DriverHandler) ListTripReservations(c *gin.Context) {
	driver, ok := h.driver(c)
	if !ok {
		return
	}
	tripID, ok := pathUUID(c, "id", "Invalid trip ID")
	if !ok {
		return
	}

	reservations, err := h.trips.ListReservations(c.Request.Context(), driver, tripID)
	if err != nil {
		respondError(c, h.logger, err, "list reservations")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservations": reservations,
		"count":        len(reservations),
	})
}

// CancelReservation handles POST /api/v1/driver/reservations/:id/cancel
// @Summary Cancel a confirmed reservation and free its seats
// @Tags Driver
// @Produce json
// @Security BearerAuth
// @Param id path string true "Reservation ID"
// @Success 200 {object} models.Reservation
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/driver/reservations/{id}/cancel [post]
func (h *DriverHandler) CancelReservation(c *gin.Context) {
	driver, ok := h.driver(c)
	if !ok {
		return
	}
	reservationID, ok := pathUUID(c, "id", "Invalid reservation ID")
	if !ok {
		return
	}

	reservation, err := h.trips.CancelReservation(c.Request.Context(), driver, reservationID)
	if err != nil {
		respondError(c, h.logger, err, "cancel reservation")
		return
	}
	c.JSON(http.StatusOK, reservation)
}

// CreateRoundTripLink handles POST /api/v1/driver/round-trip-links
// @Summary Offer two trips as a discounted round trip
// @Tags Driver
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param link body models.CreateRoundTripLinkRequest true "Link"
// @Success 201 {object} models.RoundTripLink
// @Failure 400 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Router /api/v1/driver/round-trip-links [post]
func (h *DriverHandler) CreateRoundTripLink(c *gin.Context) {
	driver, ok := h.driver(c)
	if !ok {
		return
	}

	var req models.CreateRoundTripLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request format", err)
		return
	}

	link, err := h.links.CreateLink(c.Request.Context(), driver, &req)
	if err != nil {
		respondError(c, h.logger, err, "create round trip link")
		return
	}
	c.JSON(http.StatusCreated, link)
}

func (h *DriverHandler) driver(c *gin.Context) (*models.Driver, bool) {
	driver, ok := middleware.GetDriver(c)
	if !ok {
		h.logger.WithField("path", c.Request.URL.Path).Error("Driver route mounted without RequireDriver")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "Driver context not found"})
		return nil, false
	}
	return driver, true
}

func pathUUID(c *gin.Context, param, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		badRequest(c, message, nil)
		return uuid.Nil, false
	}
	return id, true
}
