package multicall

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_multicall_batches_total",
		Help: "Aggregate batches submitted, including bisection retries.",
	}, []string{"chain"})
	batchSplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_multicall_batch_splits_total",
		Help: "Batches that reverted whole and were split in half.",
	}, []string{"chain"})
	failedCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_multicall_failed_calls_total",
		Help: "Individual calls that failed even in isolation.",
	}, []string{"chain"})
)
