package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/gearshare/rental-backend/internal/models"
	"github.com/gearshare/rental-backend/internal/services"
)

// respondError maps domain errors onto HTTP responses. User errors keep
// their message; anything unexpected is logged and returned as a generic 500
// so internals never leak.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		validationErr  *models.ValidationError
		notFoundErr    *models.NotFoundError
		datesErr       *models.DatesUnavailableError
		selfBookingErr *models.SelfBookingError
		amountErr      *models.InvalidAmountError
		transitionErr  *models.InvalidTransitionError
		providerErr    *models.ProviderError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "VALIDATION_ERROR"})
	case errors.As(err, &amountErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "INVALID_AMOUNT"})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "NOT_FOUND"})
	case errors.As(err, &datesErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "DATES_UNAVAILABLE"})
	case errors.As(err, &selfBookingErr):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "SELF_BOOKING"})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "INVALID_TRANSITION"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "FORBIDDEN"})
	case errors.As(err, &providerErr):
		logger.WithError(err).Error("Payment provider failure")
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment provider unavailable", "code": "PROVIDER_ERROR"})
	default:
		logger.WithError(err).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
