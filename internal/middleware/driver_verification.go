package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/intercity/booking-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// DriverContextKey is the key used to store the driver profile in Gin context
const DriverContextKey = "driver"

// DriverLookup resolves the driver profile behind a user account
type DriverLookup interface {
	GetDriverByUserID(ctx context.Context, userID uuid.UUID) (*models.Driver, error)
}

// RequireDriver loads the caller's driver profile.
// Must be used after AuthMiddleware to have userCtx available.
func RequireDriver(drivers DriverLookup, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userCtx, exists := GetUserContext(c)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "User context not found",
			})
			return
		}

		driver, err := drivers.GetDriverByUserID(c.Request.Context(), userCtx.UserID)
		if err != nil {
			logger.WithError(err).WithField("user_id", userCtx.UserID).Error("Failed to load driver profile")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load driver profile",
			})
			return
		}
		if driver == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "not_driver",
				"message": "Driver account not found",
				"code":    "DRIVER_NOT_FOUND",
			})
			return
		}

		c.Set(DriverContextKey, driver)
		c.Next()
	}
}

// GetDriver retrieves the driver profile set by RequireDriver
func GetDriver(c *gin.Context) (*models.Driver, bool) {
	value, exists := c.Get(DriverContextKey)
	if !exists {
		return nil, false
	}
	driver, ok := value.(*models.Driver)
	return driver, ok && driver != nil
}
