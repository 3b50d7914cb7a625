package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "doodles"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	CreditsDeducted      prometheus.Counter
	CreditsRefunded      *prometheus.CounterVec
	CreditsGranted       prometheus.Counter
	GenerationsSubmitted *prometheus.CounterVec
	GenerationsFinalized *prometheus.CounterVec
	Webhooks             *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreditsDeducted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_deducted_total",
			Help:      "Credits charged for generations.",
		}),
		CreditsRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_refunded_total",
			Help:      "Credits returned to users, by reason.",
		}, []string{"reason"}), // submit_failed / pipeline_failed / timeout
		CreditsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits granted by completed purchases.",
		}),
		GenerationsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_submitted_total",
			Help:      "Jobs accepted by the pipeline, by kind.",
		}, []string{"kind"}),
		GenerationsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_finalized_total",
			Help:      "Jobs that reached a terminal state, by kind and status.",
		}, []string{"kind", "status"}),
		Webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Webhook deliveries, by source and outcome.",
		}, []string{"source", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "code"}),
	}
	reg.MustRegister(
		m.CreditsDeducted,
		m.CreditsRefunded,
		m.CreditsGranted,
		m.GenerationsSubmitted,
		m.GenerationsFinalized,
		m.Webhooks,
		m.RequestDuration,
	)
	return m
}

// Middleware records the latency of every request under its route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
