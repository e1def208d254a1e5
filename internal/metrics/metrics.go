// Package metrics defines the Prometheus collectors for the delivery
// engine and the storage observation hook.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DeliveriesTotal counts messages successfully handed to a sink.
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outflow_deliveries_total",
			Help: "Messages delivered to sinks, by output",
		},
		[]string{"output"},
	)

	// DeliveryFailuresTotal counts failed delivery attempts.
	DeliveryFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outflow_delivery_failures_total",
			Help: "Failed sink delivery attempts, by output",
		},
		[]string{"output"},
	)

	// CheckpointCommitsTotal counts persisted resume points.
	CheckpointCommitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outflow_checkpoint_commits_total",
			Help: "Committed output checkpoints, by output",
		},
		[]string{"output"},
	)

	// SessionsTotal counts worker session ends by reason
	// (clean|error|stopped).
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outflow_sessions_total",
			Help: "Output worker sessions ended, by output and reason",
		},
		[]string{"output", "reason"},
	)

	storageReadSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outflow_storage_read_seconds",
		Help:    "Latency of storage point reads",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
	storageCommitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outflow_storage_commit_seconds",
		Help:    "Latency of storage batch commits",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)

// MustRegister registers all collectors with r.
func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		DeliveryFailuresTotal,
		CheckpointCommitsTotal,
		SessionsTotal,
		storageReadSeconds,
		storageCommitSeconds,
	)
}

// StorageHook implements the pebblestore.MetricsHook surface.
type StorageHook struct{}

func (StorageHook) ObserveRead(elapsed time.Duration, _ int) {
	storageReadSeconds.Observe(elapsed.Seconds())
}

func (StorageHook) ObserveCommit(elapsed time.Duration, _ int) {
	storageCommitSeconds.Observe(elapsed.Seconds())
}
