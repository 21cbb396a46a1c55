// Package headscan follows each chain's head and keeps tracked wallets in
// sync with on-chain activity: every poll it crawls the new block window for
// transfers touching the tracked set, records them, invalidates the touched
// snapshots and schedules their rebuilds.
package headscan

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru"
	"github.com/paulbellamy/ratecounter"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "headscan")

const (
	// DefaultPollInterval is how often the scanner looks for new blocks.
	DefaultPollInterval = 10 * time.Second
	// DefaultMaxCatchup caps how many blocks one tick may process.
	DefaultMaxCatchup = 200
	// DefaultReorgDepth is how far the cursor rewinds when the head moves
	// backwards.
	DefaultReorgDepth = 32
	// headQuorum providers must agree on the chain head before the scanner
	// trusts it.
	headQuorum = 2
	// dedupeRingSize bounds the replay-suppression ring. The database unique
	// constraint backs it up for anything evicted.
	dedupeRingSize = 8192
	// tickTimeout bounds one full catch-up window, crawling included.
	tickTimeout = 2 * time.Minute
	minBackoff  = time.Second
	maxBackoff  = 60 * time.Second
)

// HeadReader reads the chain head across multiple providers.
type HeadReader interface {
	QuorumBlockNumber(ctx context.Context, quorum int) (uint64, error)
}

// TransferSource crawls transfers touching a set of wallets in a window.
type TransferSource interface {
	TransfersTouching(ctx context.Context, wallets []types.Address, from, to uint64) ([]*types.TransferRecord, error)
}

// TrackedSource supplies the active tracked wallets for a chain.
type TrackedSource interface {
	TrackedSet(chainId types.ChainId) []types.Address
}

// SnapshotInvalidator marks snapshots outdated and schedules rebuilds.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, chainId types.ChainId, wallet types.Address) error
	ScheduleRefresh(chainId types.ChainId, wallet types.Address)
}

// Config holds one chain's scanner dependencies.
type Config struct {
	Profile      *chains.Profile
	Head         HeadReader
	Transfers    TransferSource
	Tracked      TrackedSource
	Snapshots    SnapshotInvalidator
	SyncStore    db.SyncStore
	RecordStore  db.TransferStore
	PollInterval time.Duration
	MaxCatchup   uint64
	ReorgDepth   uint64
}

// Service scans one chain. Run one per supported chain.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	profile      *chains.Profile
	head         HeadReader
	transfers    TransferSource
	tracked      TrackedSource
	snapshots    SnapshotInvalidator
	syncStore    db.SyncStore
	recordStore  db.TransferStore
	pollInterval time.Duration
	maxCatchup   uint64
	reorgDepth   uint64
	synced       uint64
	haveCursor   bool
	backoff      time.Duration
	seen         *lru.Cache
	rate         *ratecounter.RateCounter
	runError     error
}

// NewService builds a scanner for one chain. Scanning starts with Start.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Profile == nil {
		return nil, errors.New("head scanner requires a chain profile")
	}
	if cfg.Head == nil || cfg.Transfers == nil || cfg.Tracked == nil || cfg.Snapshots == nil {
		return nil, errors.Errorf("head scanner for %s missing a dependency", cfg.Profile.Name)
	}
	if cfg.SyncStore == nil || cfg.RecordStore == nil {
		return nil, errors.Errorf("head scanner for %s missing persistence", cfg.Profile.Name)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxCatchup == 0 {
		cfg.MaxCatchup = DefaultMaxCatchup
	}
	if cfg.ReorgDepth == 0 {
		cfg.ReorgDepth = DefaultReorgDepth
	}
	seen, err := lru.New(dedupeRingSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:          ctx,
		cancel:       cancel,
		profile:      cfg.Profile,
		head:         cfg.Head,
		transfers:    cfg.Transfers,
		tracked:      cfg.Tracked,
		snapshots:    cfg.Snapshots,
		syncStore:    cfg.SyncStore,
		recordStore:  cfg.RecordStore,
		pollInterval: cfg.PollInterval,
		maxCatchup:   cfg.MaxCatchup,
		reorgDepth:   cfg.ReorgDepth,
		seen:         seen,
		rate:         ratecounter.NewRateCounter(time.Minute),
	}, nil
}

// Start launches the scan loop.
func (s *Service) Start() {
	log.WithFields(logrus.Fields{
		"chain":        s.profile.Name,
		"pollInterval": s.pollInterval,
	}).Info("Starting head scanner")
	go s.run()
}

// Stop halts the scan loop.
func (s *Service) Stop() error {
	s.cancel()
	log.WithField("chain", s.profile.Name).Info("Stopping head scanner")
	return nil
}

// Status reports the last persistent failure, nil while scanning cleanly.
func (s *Service) Status() error {
	return s.runError
}

// ChainId identifies the chain this scanner follows.
func (s *Service) ChainId() types.ChainId {
	return s.profile.Id
}

func (s *Service) run() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.safeTick(); err != nil {
				s.runError = err
				s.backoff = nextBackoff(s.backoff)
				dbRetriesTotal.WithLabelValues(s.profile.Name).Inc()
				log.WithError(err).WithFields(logrus.Fields{
					"chain":   s.profile.Name,
					"retryIn": s.backoff,
				}).Error("Head scan failed, backing off")
				select {
				case <-time.After(s.backoff):
				case <-s.ctx.Done():
					return
				}
				continue
			}
			s.runError = nil
			s.backoff = 0
		}
	}
}

// safeTick shields the loop from invariant panics: the tick dies, the cursor
// reloads from the database, and scanning resumes on the next poll.
func (s *Service) safeTick() (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"chain": s.profile.Name,
				"panic": r,
			}).Error("Head scan tick panicked, reloading cursor")
			s.haveCursor = false
			err = nil
		}
	}()
	return s.tick()
}

// tick processes one window. Only database failures are returned; provider
// hiccups are logged and retried on the next poll since the pool already
// rotated past the failing endpoint.
func (s *Service) tick() error {
	ctx, cancel := context.WithTimeout(s.ctx, tickTimeout)
	defer cancel()

	if !s.haveCursor {
		if err := s.loadCursor(ctx); err != nil {
			return err
		}
	}
	latest, err := s.head.QuorumBlockNumber(ctx, headQuorum)
	if err != nil {
		log.WithError(err).WithField("chain", s.profile.Name).Debug("Could not agree on chain head")
		return nil
	}
	latestBlock.WithLabelValues(s.profile.Name).Set(float64(latest))

	if latest < s.synced {
		rewound := rewind(latest, s.reorgDepth)
		log.WithFields(logrus.Fields{
			"chain":  s.profile.Name,
			"head":   latest,
			"cursor": s.synced,
			"replay": rewound,
		}).Warn("Chain head moved backwards, replaying for reorg")
		reorgsTotal.WithLabelValues(s.profile.Name).Inc()
		if err := s.persistCursor(ctx, latest, rewound); err != nil {
			return err
		}
		s.synced = rewound
	}
	if s.synced > latest {
		panic(fmt.Sprintf("chain %s: cursor %d ahead of head %d", s.profile.Name, s.synced, latest))
	}
	if s.synced == latest {
		return nil
	}

	from := s.synced + 1
	to := s.synced + s.maxCatchup
	if to > latest {
		to = latest
	}
	wallets := s.tracked.TrackedSet(s.profile.Id)
	var records []*types.TransferRecord
	if len(wallets) > 0 {
		records, err = s.transfers.TransfersTouching(ctx, wallets, from, to)
		if err != nil {
			// Leave the cursor so the window replays next tick.
			log.WithError(err).WithFields(logging.WindowFields(s.profile.Id, from, to)).
				Warn("Could not crawl block window")
			return nil
		}
	}
	if err := s.process(ctx, records); err != nil {
		return err
	}
	if err := s.persistCursor(ctx, latest, to); err != nil {
		return err
	}
	s.synced = to
	s.rate.Incr(int64(to - from + 1))
	blocksScannedTotal.WithLabelValues(s.profile.Name).Add(float64(to - from + 1))
	syncedBlock.WithLabelValues(s.profile.Name).Set(float64(to))

	fields := logrus.Fields{
		"chain":     s.profile.Name,
		"block":     humanize.Comma(int64(to)),
		"head":      humanize.Comma(int64(latest)),
		"transfers": len(records),
		"rate":      fmt.Sprintf("%d blocks/min", s.rate.Rate()),
	}
	if to < latest {
		log.WithFields(fields).Info("Catching up to chain head")
	} else {
		log.WithFields(fields).Debug("Scanned to chain head")
	}
	return nil
}

// process records the window's transfers and invalidates every touched
// wallet. Nothing is marked as seen until the whole batch lands, so a
// failure replays the window and repeats the idempotent writes.
func (s *Service) process(ctx context.Context, records []*types.TransferRecord) error {
	fresh := make([]*types.TransferRecord, 0, len(records))
	for _, rec := range records {
		if _, dup := s.seen.Get(dedupeKey(rec)); !dup {
			fresh = append(fresh, rec)
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	if err := s.recordStore.SaveTransfers(ctx, fresh); err != nil {
		return err
	}
	touched := make(map[types.Address]bool)
	for _, rec := range fresh {
		touched[rec.Wallet] = true
	}
	for wallet := range touched {
		if err := s.snapshots.Invalidate(ctx, s.profile.Id, wallet); err != nil {
			return err
		}
	}
	for _, rec := range fresh {
		s.seen.Add(dedupeKey(rec), struct{}{})
	}
	for wallet := range touched {
		s.snapshots.ScheduleRefresh(s.profile.Id, wallet)
	}
	transfersSeenTotal.WithLabelValues(s.profile.Name).Add(float64(len(fresh)))
	walletsTouchedTotal.WithLabelValues(s.profile.Name).Add(float64(len(touched)))
	return nil
}

// loadCursor restores scan progress. A chain scanned for the first time
// starts at the current head; history belongs to discovery, not the scanner.
func (s *Service) loadCursor(ctx context.Context) error {
	status, err := s.syncStore.BlockSyncStatus(ctx, s.profile.Id)
	if err != nil {
		return err
	}
	if status != nil {
		s.synced = status.SyncedBlock
		s.haveCursor = true
		log.WithFields(logrus.Fields{
			"chain":  s.profile.Name,
			"cursor": s.synced,
		}).Info("Resuming head scan")
		return nil
	}
	latest, err := s.head.QuorumBlockNumber(ctx, headQuorum)
	if err != nil {
		return errors.Wrap(err, "initial chain head")
	}
	if err := s.persistCursor(ctx, latest, latest); err != nil {
		return err
	}
	s.synced = latest
	s.haveCursor = true
	log.WithFields(logrus.Fields{
		"chain":  s.profile.Name,
		"cursor": s.synced,
	}).Info("Starting head scan at current head")
	return nil
}

func (s *Service) persistCursor(ctx context.Context, latest, synced uint64) error {
	return s.syncStore.SaveBlockSyncStatus(ctx, &types.BlockSyncStatus{
		ChainId:     s.profile.Id,
		LatestBlock: latest,
		SyncedBlock: synced,
		LastSync:    time.Now(),
		Status:      types.SyncStatusActive,
	})
}

func dedupeKey(rec *types.TransferRecord) string {
	return fmt.Sprintf("%s:%d:%s", rec.TxHash, rec.LogIndex, rec.Wallet)
}

func rewind(head, depth uint64) uint64 {
	if head < depth {
		return 0
	}
	return head - depth
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minBackoff
	}
	next := 2 * current
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
