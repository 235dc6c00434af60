package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/medreza/honcho-rewards/pkg/identity"
)

const maxTrackedLimiters = 10000

// PlayLimiter throttles play submissions per caller. It only smooths bursts
// of clicks; the play cap itself is enforced by the ledger.
type PlayLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	log      *logrus.Logger
}

func NewPlayLimiter(perSecond float64, burst int, log *logrus.Logger) *PlayLimiter {
	return &PlayLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		log:      log,
	}
}

func (l *PlayLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= maxTrackedLimiters {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Middleware must run after identity.Middleware.
func (l *PlayLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := identity.UserID(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.limiter(key).Allow() {
			l.log.WithFields(logrus.Fields{
				"user_id": key,
				"path":    c.FullPath(),
			}).Warn("PlayLimiter: Rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":  "Too many play requests",
				"status": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
