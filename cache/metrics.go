package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_cache_reads_total",
		Help: "Snapshot reads by outcome: fresh, stale, or build.",
	}, []string{"chain", "state"})
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_cache_builds_total",
		Help: "Snapshot builds started.",
	}, []string{"chain"})
	buildFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_cache_build_failures_total",
		Help: "Snapshot builds that returned an error.",
	}, []string{"chain"})
	buildSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tokenscope_cache_build_seconds",
		Help:    "Wall time of completed snapshot builds.",
		Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 90},
	})
	stuckSyncClearedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_cache_stuck_sync_cleared_total",
		Help: "Syncing flags cleared by the stuck-sync sweeper.",
	})
	expiredPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_cache_expired_pruned_total",
		Help: "Cache rows deleted past their hard expiry.",
	})
)
