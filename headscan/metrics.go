package headscan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	latestBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenscope_headscan_latest_block",
		Help: "Chain head at the last successful poll.",
	}, []string{"chain"})
	syncedBlock = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tokenscope_headscan_synced_block",
		Help: "Last block the scanner fully processed.",
	}, []string{"chain"})
	blocksScannedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_headscan_blocks_scanned_total",
		Help: "Blocks covered by completed scan windows.",
	}, []string{"chain"})
	transfersSeenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_headscan_transfers_total",
		Help: "Tracked-wallet transfers recorded by the scanner.",
	}, []string{"chain"})
	walletsTouchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_headscan_wallets_touched_total",
		Help: "Snapshot invalidations issued for scanned transfers.",
	}, []string{"chain"})
	reorgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_headscan_reorgs_total",
		Help: "Times the head moved behind the cursor and forced a replay.",
	}, []string{"chain"})
	dbRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tokenscope_headscan_db_retries_total",
		Help: "Scan ticks aborted by database errors and retried with backoff.",
	}, []string{"chain"})
)
