package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/loyalty"
	"github.com/medreza/honcho-rewards/pkg/models"
)

type LoyaltyHandler struct {
	loyalty *loyalty.Service
	log     *logrus.Logger
}

func NewLoyaltyHandler(svc *loyalty.Service, log *logrus.Logger) *LoyaltyHandler {
	return &LoyaltyHandler{loyalty: svc, log: log}
}

// CreditLoyalty applies an earning event reported by a trusted collaborator.
func (h *LoyaltyHandler) CreditLoyalty(c *gin.Context) {
	var req models.CreditLoyaltyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, logrus.NewEntry(h.log), "CreditLoyalty", err)
		return
	}

	res, err := h.loyalty.Credit(c.Request.Context(), loyalty.CreditRequest{
		UserID:         req.UserID,
		EventType:      req.EventType,
		BaseAmount:     req.BaseAmount,
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		log := h.log.WithFields(logrus.Fields{
			"user_id":    req.UserID,
			"event_type": req.EventType,
		})
		respondError(c, log, "CreditLoyalty", err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// GetAccount returns the caller's balance, tier and ledger.
func (h *LoyaltyHandler) GetAccount(c *gin.Context) {
	userID := identity.UserID(c)
	acct, entries, err := h.loyalty.Account(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log.WithField("user_id", userID), "GetAccount", err)
		return
	}
	if entries == nil {
		entries = make([]models.LoyaltyEntry, 0)
	}
	c.JSON(http.StatusOK, gin.H{
		"account": acct,
		"tier":    h.loyalty.Tiers().TierFor(acct.Balance),
		"entries": entries,
	})
}
