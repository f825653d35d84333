package rag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docqa",
		Name:      "ingest_duration_seconds",
		Help:      "Time to load, chunk, embed and persist one document.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
	chunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "docqa",
		Name:      "chunks_indexed_total",
		Help:      "Chunks written to an index.",
	})
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "docqa",
		Name:      "query_duration_seconds",
		Help:      "Time to retrieve and answer one question.",
		Buckets:   prometheus.DefBuckets,
	})
	stageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "docqa",
		Name:      "stage_errors_total",
		Help:      "Pipeline failures by stage.",
	}, []string{"stage"})
)

const (
	stageLoad     = "load"
	stageChunk    = "chunk"
	stageIndex    = "index"
	stagePersist  = "persist"
	stageOpen     = "open"
	stageRetrieve = "retrieve"
	stageCompose  = "compose"
)

func stageFailed(stage string) { stageErrors.WithLabelValues(stage).Inc() }
