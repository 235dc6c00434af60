package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/events"
	"github.com/medreza/honcho-rewards/pkg/identity"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// EventHistory reads back a user's published events, newest first.
type EventHistory interface {
	History(ctx context.Context, userID string, limit int64) ([]events.Event, error)
}

type EventHandler struct {
	history EventHistory
	log     *logrus.Logger
}

func NewEventHandler(history EventHistory, log *logrus.Logger) *EventHandler {
	return &EventHandler{history: history, log: log}
}

func (h *EventHandler) ListEvents(c *gin.Context) {
	userID := identity.UserID(c)
	limit := int64(defaultHistoryLimit)
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.log.WithField("limit", raw).Warn("ListEvents: Invalid limit")
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	evts, err := h.history.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.WithField("user_id", userID).WithError(err).Error("ListEvents: Failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read event history"})
		return
	}
	if evts == nil {
		evts = make([]events.Event, 0)
	}
	c.JSON(http.StatusOK, gin.H{"events": evts})
}
