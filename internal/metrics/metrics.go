// Package metrics provides Prometheus metrics for chatterbox.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TurnsTotal counts finished turns by outcome (completed, failed).
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatterbox",
			Name:      "turns_total",
			Help:      "Total number of finished turns",
		},
		[]string{"outcome"},
	)

	// TurnDuration measures wall time from prompt to terminal event.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chatterbox",
			Name:      "turn_duration_seconds",
			Help:      "Duration of turns in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"outcome"},
	)

	// FragmentsTotal counts text fragments appended to responses.
	FragmentsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatterbox",
			Name:      "fragments_total",
			Help:      "Total number of text fragments published",
		},
	)

	// DecodeErrorsTotal counts skipped stream lines.
	DecodeErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatterbox",
			Name:      "decode_errors_total",
			Help:      "Total number of stream chunks that could not be decoded",
		},
	)

	// StoreErrorsTotal counts context store failures by operation.
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chatterbox",
			Name:      "store_errors_total",
			Help:      "Total number of context store errors",
		},
		[]string{"operation"},
	)

	// Subscribers tracks live event subscribers across all conversations.
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chatterbox",
			Name:      "subscribers",
			Help:      "Number of live event subscribers",
		},
	)

	// SubscribersDropped counts subscribers disconnected for falling behind.
	SubscribersDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chatterbox",
			Name:      "subscribers_dropped_total",
			Help:      "Total number of subscribers disconnected for falling behind",
		},
	)
)

// RecordTurn records a finished turn.
func RecordTurn(outcome string, seconds float64) {
	TurnsTotal.WithLabelValues(outcome).Inc()
	TurnDuration.WithLabelValues(outcome).Observe(seconds)
}

// RecordStoreError records a context store failure.
func RecordStoreError(operation string) {
	StoreErrorsTotal.WithLabelValues(operation).Inc()
}
