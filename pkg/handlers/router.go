package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medreza/honcho-rewards/pkg/coupon"
	"github.com/medreza/honcho-rewards/pkg/identity"
	"github.com/medreza/honcho-rewards/pkg/loyalty"
	"github.com/medreza/honcho-rewards/pkg/metrics"
	"github.com/medreza/honcho-rewards/pkg/play"
	"github.com/medreza/honcho-rewards/pkg/referral"
)

type RouterConfig struct {
	Plays     *play.Service
	Coupons   *coupon.Service
	Loyalty   *loyalty.Service
	Referrals *referral.Service

	Identity     identity.Resolver
	ServiceToken string
	PlayLimiter  *PlayLimiter

	// History enables GET /api/events when an event audit sink is configured.
	History EventHistory
	Log     *logrus.Logger
}

// NewRouter wires the public /api routes, which act for the resolved caller,
// and the /internal routes used by the order subsystem and other services.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), metrics.Middleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	plays := NewPlayHandler(cfg.Plays, cfg.Log)
	coupons := NewCouponHandler(cfg.Coupons, cfg.Log)
	loyaltyH := NewLoyaltyHandler(cfg.Loyalty, cfg.Log)
	referrals := NewReferralHandler(cfg.Referrals, cfg.Log)

	api := router.Group("/api", identity.Middleware(cfg.Identity, cfg.Log))
	{
		submit := []gin.HandlerFunc{plays.SubmitPlay}
		if cfg.PlayLimiter != nil {
			submit = append([]gin.HandlerFunc{cfg.PlayLimiter.Middleware()}, submit...)
		}
		api.POST("/plays", submit...)
		api.GET("/games/:id/plays", plays.GetUsage)
		api.GET("/coupons", coupons.ListCoupons)
		api.GET("/loyalty", loyaltyH.GetAccount)
		api.GET("/referral/code", referrals.GetCode)
		api.GET("/referral/stats", referrals.GetStats)
		if cfg.History != nil {
			api.GET("/events", NewEventHandler(cfg.History, cfg.Log).ListEvents)
		}
	}

	internal := router.Group("/internal", identity.RequireServiceToken(cfg.ServiceToken, cfg.Log))
	{
		internal.POST("/coupons", coupons.IssueCoupon)
		internal.POST("/loyalty/credits", loyaltyH.CreditLoyalty)
		internal.POST("/referrals/redeem", referrals.Redeem)
	}

	return router
}
