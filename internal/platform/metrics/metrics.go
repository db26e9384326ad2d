package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the authentication engine.
type Metrics struct {
	LoginAttempts   *prometheus.CounterVec // labels: method, outcome
	TokenRotations  prometheus.Counter
	ReuseDetections prometheus.Counter
	RateLimited     prometheus.Counter
	OriginsRejected prometheus.Counter
	SignupsTotal    prometheus.Counter
	SessionsRevoked prometheus.Counter
	EndpointLatency *prometheus.HistogramVec // label: endpoint
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		LoginAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tokenly_login_attempts_total",
			Help: "Login attempts by login method and outcome",
		}, []string{"method", "outcome"}),
		TokenRotations: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_token_rotations_total",
			Help: "Successful refresh token rotations",
		}),
		ReuseDetections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_reuse_detections_total",
			Help: "Refresh token replays detected (family revoked)",
		}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_rate_limited_total",
			Help: "Requests rejected by the per-key rate limiter",
		}),
		OriginsRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_origins_rejected_total",
			Help: "Requests rejected by the origin allow-list",
		}),
		SignupsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_signups_total",
			Help: "End users created through signup",
		}),
		SessionsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tokenly_sessions_revoked_total",
			Help: "Sessions revoked (single, bulk, and family revocations)",
		}),
		EndpointLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tokenly_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}
