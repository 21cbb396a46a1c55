package chainrpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcRequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_pool_requests_total",
			Help: "Count of JSON-RPC requests issued through the provider pool",
		},
		[]string{"chain", "method"},
	)
	rpcRequestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_pool_request_failures_total",
			Help: "Count of JSON-RPC requests that failed, bucketed by reason",
		},
		[]string{"chain", "reason"},
	)
	rpcFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_pool_failovers_total",
			Help: "Count of fallbacks to an alternative endpoint",
		},
		[]string{"chain"},
	)
	rpcUnhealthyEndpoints = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpc_pool_unhealthy_endpoints",
			Help: "Number of endpoints currently benched per chain",
		},
		[]string{"chain"},
	)
	rpcQuorumDisagreements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_pool_quorum_disagreements_total",
			Help: "Count of quorum calls whose providers returned conflicting results",
		},
		[]string{"chain"},
	)
	rpcRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpc_pool_request_latency_milliseconds",
			Help:    "Captures RPC latency through the pool in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"chain", "method"},
	)
)
