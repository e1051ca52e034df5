package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/intercity/booking-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	holdTokenHeader      = "X-Hold-Token"
	maxIdempotencyKeyLen = 128
)

// HoldManager is the checkout side of the hold lifecycle
type HoldManager interface {
	CreateHold(ctx context.Context, req *models.CreateHoldRequest) (*models.HoldResponse, bool, error)
	GetHold(ctx context.Context, holdID uuid.UUID, token string) (*models.HoldResponse, error)
	AbandonHold(ctx context.Context, holdID uuid.UUID, token string) error
	InitiatePayment(ctx context.Context, holdID uuid.UUID, token string) (*models.PaymentSessionResponse, error)
}

// HoldRateLimiter throttles hold creation per passenger email and client IP
type HoldRateLimiter interface {
	CheckHoldRateLimit(ctx context.Context, email, ip string) error
	RecordHoldRequest(ctx context.Context, email, ip string) error
}

// HoldHandler handles seat holds and payment initiation
type HoldHandler struct {
	holds   HoldManager
	limiter HoldRateLimiter
	logger  *logrus.Logger
}

// NewHoldHandler creates a new hold handler. limiter may be nil to disable throttling.
func NewHoldHandler(holds HoldManager, limiter HoldRateLimiter, logger *logrus.Logger) *HoldHandler {
	return &HoldHandler{
		holds:   holds,
		limiter: limiter,
		logger:  logger,
	}
}

// CreateHold handles POST /api/v1/holds
// @Summary Hold seats on a trip segment
// @Description Prices the segment and reserves the seats for a limited time. Retries with the same Idempotency-Key return the existing hold.
// @Tags Holds
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "Client generated retry key"
// @Param hold body models.CreateHoldRequest true "Hold request"
// @Success 201 {object} models.HoldResponse
// @Success 200 {object} models.HoldResponse "Existing hold for the idempotency key"
// @Failure 400 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 429 {object} map[string]interface{}
// @Router /api/v1/holds [post]
func (h *HoldHandler) CreateHold(c *gin.Context) {
	var req models.CreateHoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WithError(err).Warn("Invalid hold request - JSON parsing failed")
		badRequest(c, "Invalid request format", err)
		return
	}

	if key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader)); key != "" {
		if len(key) > maxIdempotencyKeyLen {
			badRequest(c, "Idempotency-Key is too long", nil)
			return
		}
		req.IdempotencyKey = &key
	}
	platform := utils.ClientPlatform(c.Request.UserAgent())
	req.ClientPlatform = &platform
	if userCtx, ok := middleware.GetUserContext(c); ok {
		req.PassengerID = &userCtx.UserID
	}

	ip := utils.GetRealIP(c)
	ctx := c.Request.Context()

	if h.limiter != nil {
		if err := h.limiter.CheckHoldRateLimit(ctx, req.Passenger.Email, ip); err != nil {
			h.logger.WithError(err).WithField("ip", ip).Warn("Hold creation throttled")
			respondError(c, h.logger, err, "check hold rate limit")
			return
		}
	}

	resp, created, err := h.holds.CreateHold(ctx, &req)
	if err != nil {
		respondError(c, h.logger, err, "create hold")
		return
	}

	if !created {
		c.JSON(http.StatusOK, resp)
		return
	}

	if h.limiter != nil {
		if err := h.limiter.RecordHoldRequest(ctx, req.Passenger.Email, ip); err != nil {
			h.logger.WithError(err).WithField("hold_id", resp.HoldID).Warn("Failed to record hold for rate limiting")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"hold_id":  resp.HoldID,
		"trip_id":  resp.TripID,
		"seats":    len(resp.Seats),
		"platform": platform,
	}).Info("Hold created")

	c.JSON(http.StatusCreated, resp)
}

// GetHold handles GET /api/v1/holds/:id
// @Summary Get a hold
// @Tags Holds
// @Produce json
// @Param id path string true "Hold ID"
// @Param X-Hold-Token header string true "Token returned at creation"
// @Success 200 {object} models.HoldResponse
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/holds/{id} [get]
func (h *HoldHandler) GetHold(c *gin.Context) {
	holdID, token, ok := holdCredentials(c)
	if !ok {
		return
	}

	resp, err := h.holds.GetHold(c.Request.Context(), holdID, token)
	if err != nil {
		respondError(c, h.logger, err, "load hold")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AbandonHold handles DELETE /api/v1/holds/:id
// @Summary Release a hold before payment
// @Tags Holds
// @Param id path string true "Hold ID"
// @Param X-Hold-Token header string true "Token returned at creation"
// @Success 204
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/holds/{id} [delete]
func (h *HoldHandler) AbandonHold(c *gin.Context) {
	holdID, token, ok := holdCredentials(c)
	if !ok {
		return
	}

	if err := h.holds.AbandonHold(c.Request.Context(), holdID, token); err != nil {
		respondError(c, h.logger, err, "abandon hold")
		return
	}
	c.Status(http.StatusNoContent)
}

// InitiatePayment handles POST /api/v1/holds/:id/payment
// @Summary Start card payment for a hold
// @Tags Holds
// @Produce json
// @Param id path string true "Hold ID"
// @Param X-Hold-Token header string true "Token returned at creation"
// @Success 200 {object} models.PaymentSessionResponse
// @Failure 403 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Failure 410 {object} map[string]interface{}
// @Router /api/v1/holds/{id}/payment [post]
func (h *HoldHandler) InitiatePayment(c *gin.Context) {
	holdID, token, ok := holdCredentials(c)
	if !ok {
		return
	}

	session, err := h.holds.InitiatePayment(c.Request.Context(), holdID, token)
	if err != nil {
		respondError(c, h.logger, err, "initiate payment")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"hold_id":           holdID,
		"payment_intent_id": session.PaymentIntentID,
		"amount":            session.Amount,
	}).Info("Payment initiated")

	c.JSON(http.StatusOK, session)
}

// holdCredentials reads the hold ID and token, answering 400/401 itself
func holdCredentials(c *gin.Context) (uuid.UUID, string, bool) {
	holdID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid hold ID", nil)
		return uuid.Nil, "", false
	}

	token := strings.TrimSpace(c.GetHeader(holdTokenHeader))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{
			"status":  "error",
			"error":   "missing_hold_token",
			"message": "X-Hold-Token header is required",
		})
		return uuid.Nil, "", false
	}
	return holdID, token, true
}
