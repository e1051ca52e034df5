package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/intercity/booking-backend/internal/middleware"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/intercity/booking-backend/internal/services"
	"github.com/sirupsen/logrus"
)

// errorStatus maps a service error to an HTTP status and a stable error code
func errorStatus(err error) (int, string) {
	var rateLimited *services.RateLimitError
	switch {
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case models.IsValidationError(err):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, models.ErrTripNotFound):
		return http.StatusNotFound, "trip_not_found"
	case errors.Is(err, models.ErrHoldNotFound):
		return http.StatusNotFound, "hold_not_found"
	case errors.Is(err, models.ErrReservationNotFound):
		return http.StatusNotFound, "reservation_not_found"
	case errors.Is(err, models.ErrHoldExpired):
		return http.StatusGone, "hold_expired"
	case errors.Is(err, models.ErrHoldClosed):
		return http.StatusConflict, "hold_closed"
	case errors.Is(err, models.ErrTripNotBookable):
		return http.StatusConflict, "trip_not_bookable"
	case errors.Is(err, models.ErrSeatUnavailable):
		return http.StatusConflict, "seat_unavailable"
	case errors.Is(err, models.ErrCapacityConflict):
		return http.StatusConflict, "capacity_conflict"
	case errors.Is(err, models.ErrAmountMismatch):
		return http.StatusConflict, "amount_mismatch"
	case errors.Is(err, models.ErrPaymentUnverified):
		return http.StatusConflict, "payment_unverified"
	case errors.Is(err, models.ErrInvalidHoldToken):
		return http.StatusForbidden, "invalid_hold_token"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError writes the error body for err. Internal errors are logged
// and replaced by a generic message.
func respondError(c *gin.Context, logger *logrus.Logger, err error, action string) {
	status, code := errorStatus(err)

	if status == http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":       c.Request.URL.Path,
			"request_id": middleware.GetRequestID(c),
		}).Errorf("Failed to %s", action)
		c.JSON(status, gin.H{
			"status":  "error",
			"error":   code,
			"message": "Failed to " + action,
		})
		return
	}

	body := gin.H{
		"status":  "error",
		"error":   code,
		"message": err.Error(),
	}

	var ve *models.ValidationError
	if errors.As(err, &ve) && ve.Field != "" {
		body["field"] = ve.Field
	}

	var rateLimited *services.RateLimitError
	if errors.As(err, &rateLimited) {
		wait := math.Ceil(time.Until(rateLimited.RetryAfter).Seconds())
		if wait < 1 {
			wait = 1
		}
		c.Header("Retry-After", strconv.Itoa(int(wait)))
		body["retry_after"] = rateLimited.RetryAfter
	}

	c.JSON(status, body)
}

// badRequest answers a request that could not be bound
func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{
		"status":  "error",
		"error":   "invalid_request",
		"message": message,
	}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
