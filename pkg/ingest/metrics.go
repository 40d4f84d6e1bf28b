package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var snapshotsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_snapshots_total",
	Help: "The number of snapshots successfully ingested",
}, []string{"provider", "feed_type"})

var duplicateSnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_duplicate_snapshots_total",
	Help: "The number of feed polls rejected as already-ingested snapshots",
}, []string{"provider", "feed_type"})

var ingestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_failures_total",
	Help: "The number of failed ingest attempts",
}, []string{"provider", "feed_type"})

var entitiesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ingest_entities_processed_total",
	Help: "The number of feed entities written into snapshots",
}, []string{"provider", "feed_type"})

var ingestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "ingest_duration_seconds",
	Help:    "The duration of one normalize call",
	Buckets: prometheus.DefBuckets,
}, []string{"provider", "feed_type"})
