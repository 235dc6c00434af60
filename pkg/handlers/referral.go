package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/models"
	"github.com/medreza/honcho-rewards/pkg/referral"
)

type ReferralHandler struct {
	referrals *referral.Service
	log       *logrus.Logger
}

func NewReferralHandler(referrals *referral.Service, log *logrus.Logger) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, log: log}
}

// GetCode returns the caller's referral code, creating it on first request.
func (h *ReferralHandler) GetCode(c *gin.Context) {
	userID := identity.UserID(c)
	rc, err := h.referrals.CodeFor(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log.WithField("user_id", userID), "GetReferralCode", err)
		return
	}
	c.JSON(http.StatusOK, rc)
}

func (h *ReferralHandler) GetStats(c *gin.Context) {
	userID := identity.UserID(c)
	stats, err := h.referrals.Stats(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log.WithField("user_id", userID), "GetReferralStats", err)
		return
	}
	if stats.Uses == nil {
		stats.Uses = make([]models.ReferralUse, 0)
	}
	c.JSON(http.StatusOK, stats)
}

// Redeem is called by the order subsystem once an order is paid. Duplicate
// deliveries answer 200 with the stored result.
func (h *ReferralHandler) Redeem(c *gin.Context) {
	var req models.RedeemReferralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, logrus.NewEntry(h.log), "RedeemReferral", err)
		return
	}

	res, err := h.referrals.Redeem(c.Request.Context(), req.Code, req.ReferredUserID, req.OrderID)
	if err != nil {
		log := h.log.WithFields(logrus.Fields{
			"code":     req.Code,
			"order_id": req.OrderID,
		})
		respondError(c, log, "RedeemReferral", err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}
