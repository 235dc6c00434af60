// Package metrics holds the Prometheus collectors of the rewards service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rewards",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	plays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "play",
			Name:      "attempts_total",
			Help:      "Play attempts by terminal state.",
		},
		[]string{"game_kind", "state"},
	)

	couponsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "coupon",
			Name:      "issued_total",
			Help:      "Coupon issuance outcomes.",
		},
		[]string{"source", "already_owned"},
	)

	loyaltyCredited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "loyalty",
			Name:      "credited_amount_total",
			Help:      "Sum of credited loyalty amounts.",
		},
		[]string{"event_type"},
	)

	referralRedemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "referral",
			Name:      "redemptions_total",
			Help:      "Referral redemptions, split by duplicate delivery.",
		},
		[]string{"duplicate"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequests,
		httpDuration,
		plays,
		couponsIssued,
		loyaltyCredited,
		referralRedemptions,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func RecordPlay(gameKind, state string) {
	plays.WithLabelValues(gameKind, state).Inc()
}

func RecordCoupon(source string, alreadyOwned bool) {
	couponsIssued.WithLabelValues(source, strconv.FormatBool(alreadyOwned)).Inc()
}

func RecordCredit(eventType string, amount float64) {
	loyaltyCredited.WithLabelValues(eventType).Add(amount)
}

func RecordRedemption(duplicate bool) {
	referralRedemptions.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
}
