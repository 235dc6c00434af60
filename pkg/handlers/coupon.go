package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/coupon"
	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/models"
)

type CouponHandler struct {
	coupons *coupon.Service
	log     *logrus.Logger
}

func NewCouponHandler(coupons *coupon.Service, log *logrus.Logger) *CouponHandler {
	return &CouponHandler{coupons: coupons, log: log}
}

// IssueCoupon grants a coupon from a non-game reward source.
func (h *CouponHandler) IssueCoupon(c *gin.Context) {
	var req models.IssueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, logrus.NewEntry(h.log), "IssueCoupon", err)
		return
	}

	res, err := h.coupons.Issue(c.Request.Context(), req.UserID, req.CouponTypeID, req.Source)
	if err != nil {
		log := h.log.WithFields(logrus.Fields{
			"user_id":        req.UserID,
			"coupon_type_id": req.CouponTypeID,
		})
		respondError(c, log, "IssueCoupon", err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyOwned {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// ListCoupons returns the caller's coupons.
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	userID := identity.UserID(c)
	coupons, err := h.coupons.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log.WithField("user_id", userID), "ListCoupons", err)
		return
	}
	if coupons == nil {
		coupons = make([]models.IssuedCoupon, 0)
	}
	c.JSON(http.StatusOK, gin.H{"coupons": coupons})
}
