package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultRefundListLimit = 50
	maxRefundListLimit     = 500
)

// MaintenanceRunner runs and reports on scheduled maintenance
type MaintenanceRunner interface {
	RunCleanupNow(ctx context.Context) (int, error)
	GetJobStatus() map[string]interface{}
}

// OpenHoldCounter reports holds still awaiting payment
type OpenHoldCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

// AuditReader reads the payment audit trail
type AuditReader interface {
	GetByHold(ctx context.Context, holdID uuid.UUID) ([]models.PaymentAudit, error)
	GetRefundRequests(ctx context.Context, limit int) ([]models.PaymentAudit, error)
}

// AdminHandler handles operator endpoints. Routes require the admin role.
type AdminHandler struct {
	maintenance MaintenanceRunner
	holds       OpenHoldCounter
	audits      AuditReader
	logger      *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	maintenance MaintenanceRunner,
	holds OpenHoldCounter,
	audits AuditReader,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		maintenance: maintenance,
		holds:       holds,
		audits:      audits,
		logger:      logger,
	}
}

// CleanupHolds handles POST /api/v1/admin/holds/cleanup
// @Summary Delete lapsed holds now
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/holds/cleanup [post]
func (h *AdminHandler) CleanupHolds(c *gin.Context) {
	removed, err := h.maintenance.RunCleanupNow(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "clean up holds")
		return
	}

	h.logger.WithField("removed", removed).Info("Manual hold cleanup completed")
	c.JSON(http.StatusOK, gin.H{
		"message": "Hold cleanup completed",
		"removed": removed,
	})
}

// GetJobStatus handles GET /api/v1/admin/jobs
// @Summary Scheduler status and open hold count
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/jobs [get]
func (h *AdminHandler) GetJobStatus(c *gin.Context) {
	open, err := h.holds.CountOpen(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, "count open holds")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scheduler":  h.maintenance.GetJobStatus(),
		"open_holds": open,
	})
}

// ListRefundRequests handles GET /api/v1/admin/refund-requests
// @Summary Payments taken without a reservation, awaiting refund
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries" default(50)
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/refund-requests [get]
func (h *AdminHandler) ListRefundRequests(c *gin.Context) {
	limit := defaultRefundListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			badRequest(c, "limit must be a positive integer", nil)
			return
		}
		limit = min(parsed, maxRefundListLimit)
	}

	requests, err := h.audits.GetRefundRequests(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err, "list refund requests")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refund_requests": requests,
		"count":           len(requests),
	})
}

// GetHoldAudits handles GET /api/v1/admin/holds/:id/audits
// @Summary Payment audit trail of a hold
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Hold ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/holds/{id}/audits [get]
func (h *AdminHandler) GetHoldAudits(c *gin.Context) {
	holdID, ok := pathUUID(c, "id", "Invalid hold ID")
	if !ok {
		return
	}

	audits, err := h.audits.GetByHold(c.Request.Context(), holdID)
	if err != nil {
		respondError(c, h.logger, err, "load hold audits")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hold_id": holdID,
		"audits":  audits,
		"count":   len(audits),
	})
}
