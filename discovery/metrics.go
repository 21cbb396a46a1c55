package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deepScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_discovery_deep_scans_total",
		Help: "Discovery runs that went past the verified-token sweep.",
	}, []string{"chain"})
	tokensDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_discovery_tokens_discovered_total",
		Help: "Token contracts first seen during deep scans.",
	}, []string{"chain"})
)
