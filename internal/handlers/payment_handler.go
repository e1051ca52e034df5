package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/intercity/booking-backend/internal/utils"
	"github.com/sirupsen/logrus"
)

// WebhookProcessor applies card processor notifications to holds
type WebhookProcessor interface {
	ProcessWebhook(ctx context.Context, body []byte, meta services.WebhookMeta) (*models.ConversionResult, error)
}

// PaymentHandler receives card processor callbacks
type PaymentHandler struct {
	processor WebhookProcessor
	logger    *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(processor WebhookProcessor, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{processor: processor, logger: logger}
}

// PaymentWebhook handles POST /api/v1/payments/webhook
// Business outcomes are acknowledged with 200 so the processor stops
// redelivering. Only internal failures answer 500; conversion is
// idempotent so a redelivery is safe.
// @Summary Card processor webhook
// @Tags Payments
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/v1/payments/webhook [post]
func (h *PaymentHandler) PaymentWebhook(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read webhook body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	meta := services.WebhookMeta{
		IPAddress:     utils.GetRealIP(c),
		UserAgent:     utils.GetUserAgent(c),
		CorrelationID: middleware.GetRequestID(c),
	}

	result, err := h.processor.ProcessWebhook(c.Request.Context(), body, meta)
	if err != nil {
		status, code := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.WithError(err).WithField("request_id", meta.CorrelationID).Error("Webhook processing failed, processor will retry")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}

		h.logger.WithError(err).WithFields(logrus.Fields{
			"request_id": meta.CorrelationID,
			"code":       code,
		}).Warn("Webhook acknowledged without conversion")
		c.JSON(http.StatusOK, gin.H{
			"message":      "webhook acknowledged",
			"acknowledged": true,
			"error":        code,
		})
		return
	}

	if result == nil {
		// Failed payment, recorded by the service
		c.JSON(http.StatusOK, gin.H{
			"message":      "webhook acknowledged",
			"acknowledged": true,
		})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"outcome":           result.Outcome,
		"reservation_id":    result.ReservationID,
		"booking_reference": result.BookingReference,
	}).Info("Webhook processed")

	c.JSON(http.StatusOK, gin.H{
		"message":           "webhook processed successfully",
		"acknowledged":      true,
		"outcome":           result.Outcome,
		"booking_reference": result.BookingReference,
	})
}
