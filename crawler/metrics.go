package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	logQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_crawler_log_queries_total",
		Help: "eth_getLogs calls issued, including refetches after splits.",
	}, []string{"chain"})
	spanSplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_crawler_span_splits_total",
		Help: "Block spans split because the provider rejected or capped them.",
	}, []string{"chain"})
	skippedBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_crawler_skipped_blocks_total",
		Help: "Single blocks dropped after their log query failed irrecoverably.",
	}, []string{"chain"})
)
