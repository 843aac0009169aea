// Package metrics holds the Prometheus collectors shared by the attempt
// service and the session engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AttemptsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attempts_created_total",
		Help: "Attempts created by the attempt service",
	})

	// AttemptsSubmitted is labelled by trigger: user, expired or api.
	AttemptsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "attempts_submitted_total",
			Help: "Final attempt submissions",
		},
		[]string{"trigger"},
	)

	SubmitFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attempt_submit_failures_total",
		Help: "Final submissions that failed and left the attempt active",
	})

	AnswerSyncFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "answer_sync_failures_total",
		Help: "Best-effort single answer syncs that did not reach the service",
	})

	AttemptsGraded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "attempts_graded_total",
		Help: "Attempts moved to graded by the grade worker",
	})

	QueueRequeued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_requeued_total",
			Help: "Queue items pushed back after a failed flush",
		},
		[]string{"queue"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AttemptsCreated,
			AttemptsSubmitted,
			SubmitFailures,
			AnswerSyncFailures,
			AttemptsGraded,
			QueueRequeued,
		)
	})
}

// Middleware records request counts and latencies per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
