// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal tracks scans by outcome
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "scan",
			Name:      "runs_total",
			Help:      "Total number of scans by outcome",
		},
		[]string{"outcome"},
	)

	// ScanDuration tracks scan duration in seconds
	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Duration of scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// PairsCompared tracks record pairs scored per rule
	PairsCompared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "scan",
			Name:      "pairs_compared_total",
			Help:      "Total number of record pairs scored",
		},
		[]string{"rule_id"},
	)

	// CandidatesTotal tracks candidate upserts by result
	CandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "scan",
			Name:      "candidates_total",
			Help:      "Total number of duplicate candidates by result",
		},
		[]string{"result"},
	)

	// BlocksSkipped tracks oversized blocks that were not paired
	BlocksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "scan",
			Name:      "blocks_skipped_total",
			Help:      "Total number of blocks skipped for exceeding the size cap",
		},
		[]string{"rule_id"},
	)

	// MergesTotal tracks merges by mode and outcome
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "merges_total",
			Help:      "Total number of merges by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	// MergeDuration tracks merge duration in seconds
	MergeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "duration_seconds",
			Help:      "Duration of merges in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// LockWaitDuration tracks time spent acquiring merge locks
	LockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent acquiring merge locks in seconds",
			Buckets:   []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)

	// ReviewActionsTotal tracks reviewer status changes
	ReviewActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "review",
			Name:      "actions_total",
			Help:      "Total number of review actions by target status and outcome",
		},
		[]string{"status", "outcome"},
	)

	// ObserverFailures tracks post-merge observers that failed
	ObserverFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "merge",
			Name:      "observer_failures_total",
			Help:      "Total number of post-merge observer failures",
		},
		[]string{"observer"},
	)

	// KafkaMessagesPublished tracks Kafka messages published
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of messages published to Kafka",
		},
		[]string{"topic", "status"},
	)

	// KafkaPublishDuration tracks Kafka publish duration
	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "publish_duration_seconds",
			Help:      "Duration of Kafka publish operations in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)
)

// RecordScan records a finished scan
func RecordScan(outcome string, durationSeconds float64) {
	ScansTotal.WithLabelValues(outcome).Inc()
	ScanDuration.Observe(durationSeconds)
}

// RecordMerge records a merge attempt
func RecordMerge(automated bool, outcome string, durationSeconds float64) {
	mode := "manual"
	if automated {
		mode = "auto"
	}
	MergesTotal.WithLabelValues(mode, outcome).Inc()
	MergeDuration.Observe(durationSeconds)
}

// RecordKafkaPublish records a Kafka publish operation
func RecordKafkaPublish(topic, status string, durationSeconds float64) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
	KafkaPublishDuration.Observe(durationSeconds)
}
