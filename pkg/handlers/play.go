package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/play"
)

type PlayHandler struct {
	plays *play.Service
	log   *logrus.Logger
}

func NewPlayHandler(plays *play.Service, log *logrus.Logger) *PlayHandler {
	return &PlayHandler{plays: plays, log: log}
}

// SubmitPlay draws one attempt for the caller. The draw happens here, on the
// server, in the same unit of work that records it.
func (h *PlayHandler) SubmitPlay(c *gin.Context) {
	userID := identity.UserID(c)
	var req models.SubmitPlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.log.WithField("user_id", userID), "SubmitPlay", err)
		return
	}

	res, err := h.plays.Submit(c.Request.Context(), userID, req.GameID, req.RequestID)
	if err != nil {
		log := h.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"game_id":    req.GameID,
			"request_id": req.RequestID,
		})
		respondError(c, log, "SubmitPlay", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetUsage reports the caller's used and remaining attempts at a game.
func (h *PlayHandler) GetUsage(c *gin.Context) {
	userID := identity.UserID(c)
	gameID := c.Param("id")

	usage, err := h.plays.Usage(c.Request.Context(), userID, gameID)
	if err != nil {
		log := h.log.WithFields(logrus.Fields{
			"user_id": userID,
			"game_id": gameID,
		})
		respondError(c, log, "GetUsage", err)
		return
	}
	if usage.Plays == nil {
		usage.Plays = make([]models.PlayRecord, 0)
	}
	c.JSON(http.StatusOK, usage)
}
