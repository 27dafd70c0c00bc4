// Package metrics provides Prometheus metrics for Lemonade's request path
// and health checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Inference ──────────────────────────────────────────────────────────────

// InferenceLatency tracks inference request duration in seconds, labeled
// by model_id.
var InferenceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "lemonade",
	Name:      "inference_latency_seconds",
	Help:      "Inference request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// InferenceTokens tracks tokens processed per request, labeled by model_id
// and direction (prompt/completion).
var InferenceTokens = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lemonade",
	Name:      "inference_tokens_total",
	Help:      "Total tokens processed.",
}, []string{"model", "direction"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "lemonade",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "lemonade",
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
