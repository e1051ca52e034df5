package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// TicketIssuer looks up confirmed reservations and renders e-tickets
type TicketIssuer interface {
	GetReservation(ctx context.Context, reference, email string) (*models.ReservationDetails, error)
	GenerateETicket(ctx context.Context, reference, email string) ([]byte, string, error)
}

// ReservationHandler serves reservation lookups to passengers
type ReservationHandler struct {
	tickets TicketIssuer
	logger  *logrus.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(tickets TicketIssuer, logger *logrus.Logger) *ReservationHandler {
	return &ReservationHandler{tickets: tickets, logger: logger}
}

// GetReservation handles GET /api/v1/reservations/:reference
// @Summary Look up a reservation
// @Description The passenger email acts as the second factor for the booking reference
// @Tags Reservations
// @Produce json
// @Param reference path string true "Booking reference"
// @Param email query string true "Passenger email"
// @Success 200 {object} models.ReservationDetails
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reservations/{reference} [get]
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	reference, email, ok := reservationLookup(c)
	if !ok {
		return
	}

	details, err := h.tickets.GetReservation(c.Request.Context(), reference, email)
	if err != nil {
		respondError(c, h.logger, err, "load reservation")
		return
	}
	c.JSON(http.StatusOK, details)
}

// DownloadTicket handles GET /api/v1/reservations/:reference/ticket
// @Summary Download the e-ticket PDF
// @Tags Reservations
// @Produce application/pdf
// @Param reference path string true "Booking reference"
// @Param email query string true "Passenger email"
// @Success 200 {file} binary
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/reservations/{reference}/ticket [get]
func (h *ReservationHandler) DownloadTicket(c *gin.Context) {
	reference, email, ok := reservationLookup(c)
	if !ok {
		return
	}

	pdf, filename, err := h.tickets.GenerateETicket(c.Request.Context(), reference, email)
	if err != nil {
		respondError(c, h.logger, err, "generate e-ticket")
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func reservationLookup(c *gin.Context) (string, string, bool) {
	reference := strings.ToUpper(strings.TrimSpace(c.Param("reference")))
	email := strings.TrimSpace(c.Query("email"))
	if reference == "" || email == "" {
		badRequest(c, "Booking reference and email are required", nil)
		return "", "", false
	}
	return reference, email, true
}
