// Package metrics holds the prometheus collectors of the sync agent.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics. It is separate from the prometheus default
// registry so tests and embedding programs do not collide on names.
var Registry = prometheus.NewRegistry()

var (
	// QueueDepth is the number of write intents waiting to be replayed,
	// including intents in a retry backoff.
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecofleet_offline_queue_depth",
			Help: "Number of queued write intents that are not yet committed.",
		},
	)

	// QueueFailedTerminal counts intents waiting for a manual retry or discard.
	QueueFailedTerminal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecofleet_offline_queue_failed_terminal",
			Help: "Number of write intents that need manual action.",
		},
	)

	// ReplayTotal counts replayed write intents by outcome.
	ReplayTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecofleet_offline_replay_total",
			Help: "Total number of write intents sent to the API.",
		},
		[]string{"outcome"}, // committed, retryable, terminal, direct
	)

	// ReplayLatency measures a single replayed request.
	ReplayLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ecofleet_offline_replay_latency_seconds",
			Help:    "Latency of replayed write requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // create, update, delete
	)

	// Online is 1 while the API is reachable.
	Online = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ecofleet_connectivity_online",
			Help: "The connectivity status to the ecofleet API (1=online, 0=offline).",
		},
	)

	// SnapshotRefreshTotal counts dashboard reads by the source that served them.
	SnapshotRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ecofleet_snapshot_reads_total",
			Help: "Total number of compliance reads by source.",
		},
		[]string{"source"}, // live, cache, unavailable
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		QueueDepth,
		QueueFailedTerminal,
		ReplayTotal,
		ReplayLatency,
		Online,
		SnapshotRefreshTotal,
	)
}
