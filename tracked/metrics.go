package tracked

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tokenscope_tracked_active_wallets",
		Help: "Active tracked wallets at the last set reload.",
	})
	addsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_tracked_adds_total",
		Help: "Tracked wallet registrations accepted.",
	})
	removesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_tracked_removes_total",
		Help: "Tracked wallet deactivations.",
	})
	refreshPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tokenscope_tracked_refresh_passes_total",
		Help: "Completed refresher sweeps over the tracked set.",
	})
)
