package services

import "github.com/prometheus/client_golang/prometheus"

// SyncMetrics are the engine counters exported on /metrics.
type SyncMetrics struct {
	Polls        *prometheus.CounterVec
	SkippedTicks prometheus.Counter
	Resends      *prometheus.CounterVec
	Conflicts    prometheus.Counter
	Unconfirmed  prometheus.Counter
	Pending      prometheus.Gauge
}

// NewSyncMetrics builds the collectors and registers them on reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		Polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_sync_polls_total",
				Help: "Store polls by result",
			},
			[]string{"result"},
		),
		SkippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_skipped_ticks_total",
			Help: "Ticks skipped because a poll was still in flight",
		}),
		Resends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_sync_resends_total",
				Help: "Pending changes re-sent to the store",
			},
			[]string{"kind"},
		),
		Conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_conflicts_total",
			Help: "Optimistic changes rolled back after the retry budget",
		}),
		Unconfirmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "order_sync_unconfirmed_total",
			Help: "Optimistic creates dropped as unconfirmed",
		}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "order_sync_pending",
			Help: "Optimistic changes waiting for the store",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.SkippedTicks, m.Resends, m.Conflicts, m.Unconfirmed, m.Pending)
	}
	return m
}
