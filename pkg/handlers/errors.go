package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/apperr"
)

// respondError maps a service error to its HTTP status and logs it under the
// handler's name. Domain errors log at warn, everything else at error.
func respondError(c *gin.Context, log *logrus.Entry, handler string, err error) {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		log.WithError(err).Warn(handler + ": Invalid request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		log.WithError(err).Warn(handler + ": Not found")
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, apperr.ErrExpired):
		log.WithError(err).Warn(handler + ": Expired")
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "status": "expired"})
	case errors.Is(err, apperr.ErrInactive):
		log.WithError(err).Warn(handler + ": Inactive")
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "status": "inactive"})
	case errors.Is(err, apperr.ErrLimitExceeded):
		log.Warn(handler + ": Play limit reached")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "status": "limit_exceeded"})
	case errors.Is(err, apperr.ErrConflict):
		log.WithError(err).Warn(handler + ": Conflict")
		c.JSON(http.StatusConflict, gin.H{"error": "Concurrent update, retry the request", "retryable": true})
	default:
		log.WithError(err).Error(handler + ": Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func respondBindError(c *gin.Context, log *logrus.Entry, handler string, err error) {
	log.WithField("error", err).Warn(handler + ": Invalid request body")
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}
