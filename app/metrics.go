package app

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "escrow"

// Metrics are the settlement counters exported on /metrics
type Metrics struct {
	Txs             *prometheus.CounterVec
	LifecycleEvents *prometheus.CounterVec
	BlockHeight     prometheus.Gauge
	BlockTxs        prometheus.Histogram
	FinalizeSeconds prometheus.Histogram
	IndexBacklog    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Txs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "txs_total",
			Help:      "Executed transactions by type and result identifier.",
		}, []string{"type", "result"}),
		LifecycleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lifecycle_events_total",
			Help:      "Item lifecycle events emitted by registries.",
		}, []string{"event", "state"}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "block_height",
			Help:      "Height of the last committed block.",
		}),
		BlockTxs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "block_txs",
			Help:      "Transactions per finalized block.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		FinalizeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "finalize_block_seconds",
			Help:      "Time spent executing a block.",
			Buckets:   prometheus.DefBuckets,
		}),
		IndexBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "index_backlog_blocks",
			Help:      "Committed blocks waiting for the catalogue indexer.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Txs, m.LifecycleEvents, m.BlockHeight, m.BlockTxs, m.FinalizeSeconds, m.IndexBacklog)
	}
	return m
}
