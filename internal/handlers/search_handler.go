package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/intercity/booking-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// TripSearcher finds bookable trips for a passenger query
type TripSearcher interface {
	SearchTrips(ctx context.Context, req *models.SearchRequest, meta services.SearchMeta) (*models.SearchResponse, error)
}

// RoundTripOfferer composes discounted outbound/return pairs
type RoundTripOfferer interface {
	GetOffers(ctx context.Context, outboundTripID uuid.UUID, fromCity, toCity string) ([]models.RoundTripOffer, error)
}

// SearchHandler handles HTTP requests for trip search
type SearchHandler struct {
	search     TripSearcher
	roundTrips RoundTripOfferer
	logger     *logrus.Logger
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(search TripSearcher, roundTrips RoundTripOfferer, logger *logrus.Logger) *SearchHandler {
	return &SearchHandler{
		search:     search,
		roundTrips: roundTrips,
		logger:     logger,
	}
}

// SearchTrips handles POST /api/v1/search
// @Summary Search for available trips
// @Description Search for trips serving a city pair, in travel direction
// @Tags Search
// @Accept json
// @Produce json
// @Param search body models.SearchRequest true "Search parameters"
// @Success 200 {object} models.SearchResponse
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /api/v1/search [post]
func (h *SearchHandler) SearchTrips(c *gin.Context) {
	var req models.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid search request - JSON parsing failed")
		badRequest(c, "Invalid request format", err)
		return
	}

	meta := services.SearchMeta{
		IPAddress:      utils.GetRealIP(c),
		ClientPlatform: utils.ClientPlatform(c.Request.UserAgent()),
	}
	if userCtx, ok := middleware.GetUserContext(c); ok {
		meta.UserID = &userCtx.UserID
	}

	response, err := h.search.SearchTrips(c.Request.Context(), &req, meta)
	if err != nil {
		respondError(c, h.logger, err, "search for trips")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"from":           req.From,
		"to":             req.To,
		"results_count":  len(response.Results),
		"search_time_ms": response.SearchTimeMs,
	}).Debug("Search completed")

	c.JSON(http.StatusOK, response)
}

// GetRoundTripOffers handles GET /api/v1/trips/:id/round-trip
// @Summary List round-trip offers for an outbound trip
// @Tags Search
// @Produce json
// @Param id path string true "Outbound trip ID"
// @Param from query string true "Origin city"
// @Param to query string true "Destination city"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/trips/{id}/round-trip [get]
func (h *SearchHandler) GetRoundTripOffers(c *gin.Context) {
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid trip ID", nil)
		return
	}

	from, to := c.Query("from"), c.Query("to")
	if from == "" || to == "" {
		badRequest(c, "Query parameters 'from' and 'to' are required", nil)
		return
	}

	offers, err := h.roundTrips.GetOffers(c.Request.Context(), tripID, from, to)
	if err != nil {
		respondError(c, h.logger, err, "load round-trip offers")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"offers": offers,
		"count":  len(offers),
	})
}
