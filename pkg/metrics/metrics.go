// Package metrics defines the prometheus instruments for the sync pipeline.
// Collectors are registered on the default registry; exposing them over HTTP
// is left to the deployment.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPublished counts messages published per queue.
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "queue",
		Name:      "messages_published_total",
		Help:      "Messages published, by queue name.",
	}, []string{"queue"})

	// MessagesConsumed counts consumed messages per queue and outcome
	// (ack, requeue, dead).
	MessagesConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "queue",
		Name:      "messages_consumed_total",
		Help:      "Messages consumed, by queue name and outcome.",
	}, []string{"queue", "outcome"})

	// JobRuns counts ETL job completions by provider and final status.
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "ETL job runs, by job name and terminal status.",
	}, []string{"job", "status"})

	// UpsertedRows counts canonical rows written by the transform stage.
	UpsertedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "transform",
		Name:      "upserted_rows_total",
		Help:      "Canonical rows written, by table and operation.",
	}, []string{"table", "operation"})

	// VectorStores counts vector store calls by outcome.
	VectorStores = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "embedding",
		Name:      "vector_stores_total",
		Help:      "VectorStore calls, by outcome.",
	}, []string{"outcome"})

	// ProviderRequests counts outbound provider API calls.
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncd",
		Subsystem: "extraction",
		Name:      "provider_requests_total",
		Help:      "Outbound provider API requests, by provider and status class.",
	}, []string{"provider", "status"})

	// QueueDepth reports pending messages per queue, set by the stats sweep.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncd",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending messages per queue.",
	}, []string{"queue"})
)
