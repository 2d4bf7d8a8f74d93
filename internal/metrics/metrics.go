package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts settled send attempts.
	// Labels:
	// - tenant_id: the tenant ID
	// - outcome:   "sent", "retry" or "failed"
	messagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubmailer",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Number of queued messages processed by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// sessionFailures counts batches lost to a connect or auth failure.
	// Labels:
	// - tenant_id: the tenant ID
	// - kind:      "connect" or "auth"
	sessionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubmailer",
			Subsystem: "smtp",
			Name:      "session_failures_total",
			Help:      "Number of SMTP sessions that could not be established",
		},
		[]string{"tenant_id", "kind"},
	)

	// runsTotal counts dispatcher runs.
	// Labels:
	// - status: "ok", "rate_limited" or "error"
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clubmailer",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Number of dispatcher runs by final status",
		},
		[]string{"status"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clubmailer",
			Subsystem: "dispatch",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one claimed batch from session open to settlement",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// AddMessages adds n messages with the given outcome.
func AddMessages(tenantID, outcome string, n int) {
	if n <= 0 {
		return
	}
	if tenantID == "" {
		tenantID = "unknown"
	}
	messagesTotal.WithLabelValues(tenantID, outcome).Add(float64(n))
}

// IncSessionFailure increments the session failure counter.
func IncSessionFailure(tenantID, kind string) {
	if tenantID == "" {
		tenantID = "unknown"
	}
	if kind == "" {
		kind = "unknown"
	}
	sessionFailures.WithLabelValues(tenantID, kind).Inc()
}

// IncRun increments the run counter.
func IncRun(status string) {
	if status == "" {
		status = "unknown"
	}
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveBatchDuration observes the duration of one batch in seconds.
func ObserveBatchDuration(seconds float64) {
	batchDuration.Observe(seconds)
}
