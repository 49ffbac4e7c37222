// ABOUTME: Prometheus collectors for sessions, frames, research runs, and persistence
// ABOUTME: Exposed by the gateway on the configured metrics path

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "research_gateway"

// Research outcome label values.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

var (
	// sessionsActive tracks open client connections.
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Number of open client sessions",
	})

	// framesTotal counts socket frames.
	// Labels: direction (in, out), type (frame type tag)
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "frames_total",
		Help:      "Socket frames by direction and type",
	}, []string{"direction", "type"})

	// framesRejected counts inbound frames that were not processed.
	// Labels: reason (decode, rate_limited, busy)
	framesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "frames_rejected_total",
		Help:      "Inbound frames rejected by reason",
	}, []string{"reason"})

	// researchRuns counts finished research runs.
	// Labels: outcome (completed, failed, cancelled)
	researchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "research",
		Name:      "runs_total",
		Help:      "Research runs by outcome",
	}, []string{"outcome"})

	// researchDuration measures engine run time.
	// Labels: outcome
	researchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "research",
		Name:      "duration_seconds",
		Help:      "Research run duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"outcome"})

	// poolWait measures how long persistence calls waited for a worker.
	poolWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "pool_wait_seconds",
		Help:      "Time spent waiting for a persistence worker",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	// persistenceErrors counts failed store or archive operations.
	// Labels: op (create_chat, append_message, save_report, ...)
	persistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "persistence",
		Name:      "errors_total",
		Help:      "Failed persistence operations by operation",
	}, []string{"op"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SessionOpened increments the active session gauge.
func SessionOpened() { sessionsActive.Inc() }

// SessionClosed decrements the active session gauge.
func SessionClosed() { sessionsActive.Dec() }

// RecordFrameIn counts an inbound frame.
func RecordFrameIn(frameType string) {
	framesTotal.WithLabelValues("in", frameType).Inc()
}

// RecordFrameOut counts an outbound frame.
func RecordFrameOut(frameType string) {
	framesTotal.WithLabelValues("out", frameType).Inc()
}

// RecordFrameRejected counts an inbound frame that was dropped or refused.
func RecordFrameRejected(reason string) {
	framesRejected.WithLabelValues(reason).Inc()
}

// RecordResearch records a finished research run.
func RecordResearch(outcome string, d time.Duration) {
	researchRuns.WithLabelValues(outcome).Inc()
	researchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordPoolWait records time spent waiting for a persistence worker.
func RecordPoolWait(d time.Duration) {
	poolWait.Observe(d.Seconds())
}

// RecordPersistenceError counts a failed persistence operation.
func RecordPersistenceError(op string) {
	persistenceErrors.WithLabelValues(op).Inc()
}
