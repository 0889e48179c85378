// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts frames delivered by each source
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_capture_packets_total",
			Help: "Total number of frames read from a source",
		},
		[]string{"source"},
	)

	// CaptureDropsTotal counts frames lost before reaching a shard
	CaptureDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_capture_drops_total",
			Help: "Total number of frames dropped before dispatch",
		},
		[]string{"source", "stage"},
	)

	// DecodeRejectsTotal counts frames the header decoder refused
	DecodeRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_decode_rejects_total",
			Help: "Total number of frames rejected by the header decoder",
		},
		[]string{"reason"},
	)

	// ShardPacketsTotal counts TCP segments handled per shard
	ShardPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_shard_packets_total",
			Help: "Total number of TCP segments processed by a shard",
		},
		[]string{"shard"},
	)

	// PDUsTotal counts emitted PDUs
	PDUsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_pdus_total",
			Help: "Total number of PDUs emitted",
		},
		[]string{"shard", "verdict", "direction"},
	)

	// UnmatchedTotal counts calls without replies and replies without calls
	UnmatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_unmatched_total",
			Help: "Total number of unmatched RPC messages",
		},
		[]string{"shard", "direction"},
	)

	// ScannedHeadersTotal counts RPC headers recovered by the signature scan
	ScannedHeadersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_scanned_headers_total",
			Help: "Total number of RPC headers found by signature scan",
		},
		[]string{"shard", "direction"},
	)

	// ForcedGCTotal counts packets evicted by garbage collection
	ForcedGCTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_forced_gc_total",
			Help: "Total number of forced garbage collections",
		},
		[]string{"shard"},
	)

	// FlowTableSize tracks the flows held by each shard
	FlowTableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chronicle_flow_table_size",
			Help: "Current number of flows in a shard's flow table",
		},
		[]string{"shard"},
	)

	// PoolInUse tracks checked out frame buffers
	PoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chronicle_pool_buffers_in_use",
			Help: "Number of frame buffers currently checked out of the pool",
		},
	)

	// NFSOpsTotal counts NFSv3 calls by procedure
	NFSOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_nfs_ops_total",
			Help: "Total number of NFSv3 calls by procedure",
		},
		[]string{"proc"},
	)

	// SinkErrorsTotal counts failed sink writes
	SinkErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chronicle_sink_errors_total",
			Help: "Total number of sink write errors",
		},
		[]string{"sink"},
	)

	// RecordLatencySeconds measures how long a record spends in the sink stage
	RecordLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chronicle_record_write_seconds",
			Help:    "Time spent writing one record to every sink",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)
)
