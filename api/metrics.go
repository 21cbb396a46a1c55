package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_api_requests_total",
		Help: "HTTP requests handled, by route, method and status class.",
	}, []string{"route", "method", "code"})
	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tokenscope_api_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10, 30},
	}, []string{"route"})
	staleServesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_api_stale_serves_total",
		Help: "Requests answered with a stale snapshot because the build path failed.",
	})
)
