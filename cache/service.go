// Package cache implements the snapshot read path: freshness classification
// against the persisted wallet_cache rows, single-flight builds shared by
// concurrent readers, and the background sweepers that self-heal interrupted
// builds and prune abandoned entries.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/async"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

var log = logrus.WithField("prefix", "cache")

const (
	// DefaultTTL is how long a snapshot serves as fresh after a build.
	DefaultTTL = 60 * time.Second
	// DefaultHardExpiry bounds how long a stale snapshot may still be served
	// before the row is eligible for pruning.
	DefaultHardExpiry = 30 * time.Minute
	// DefaultBuildTimeout caps one snapshot build end to end, queueing
	// included.
	DefaultBuildTimeout = 90 * time.Second
	// DefaultSweepInterval schedules the stuck-sync and expiry sweepers.
	DefaultSweepInterval = 10 * time.Minute
	// DefaultStuckThreshold is how old a persisted syncing flag must be
	// before the sweeper treats it as leftover from a crashed process.
	DefaultStuckThreshold = 5 * time.Minute
	// DefaultMaxBuilds bounds concurrent builds across all chains.
	DefaultMaxBuilds = 100
	// fallbackChainConcurrency applies to chains with no registered profile.
	fallbackChainConcurrency = 2
)

// Builder produces a fresh snapshot document for one (chain, wallet) pair.
// The previously cached document, when present, lets discovery scope its
// deep-scan window; refresh forces the deep phase even for diverse wallets.
type Builder interface {
	BuildSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*types.WalletSnapshot, error)
}

// Config holds the cache service dependencies and tunables. Zero durations
// take the package defaults.
type Config struct {
	Store          db.CacheStore
	Builder        Builder
	TTL            time.Duration
	HardExpiry     time.Duration
	BuildTimeout   time.Duration
	SweepInterval  time.Duration
	StuckThreshold time.Duration
	MaxBuilds      int64
}

// Service serves wallet snapshots according to the freshness contract:
// fresh entries are returned as is, stale entries are returned immediately
// while a rebuild is scheduled, and misses block the caller on a shared
// build. At most one build per (chain, wallet) runs at any time.
type Service struct {
	ctx            context.Context
	cancel         context.CancelFunc
	store          db.CacheStore
	builder        Builder
	ttl            time.Duration
	hardExpiry     time.Duration
	buildTimeout   time.Duration
	sweepInterval  time.Duration
	stuckThreshold time.Duration
	flight         singleflight.Group
	globalSem      *semaphore.Weighted
	chainSemsLock  sync.Mutex
	chainSems      map[types.ChainId]*semaphore.Weighted
	builds         uint64
	now            func() time.Time
}

// NewService builds the cache service. Sweepers start with Start.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("cache requires a store")
	}
	if cfg.Builder == nil {
		return nil, errors.New("cache requires a snapshot builder")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.HardExpiry == 0 {
		cfg.HardExpiry = DefaultHardExpiry
	}
	if cfg.BuildTimeout == 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.StuckThreshold == 0 {
		cfg.StuckThreshold = DefaultStuckThreshold
	}
	if cfg.MaxBuilds == 0 {
		cfg.MaxBuilds = DefaultMaxBuilds
	}
	if cfg.HardExpiry < cfg.TTL {
		return nil, errors.Errorf("hard expiry %s shorter than ttl %s", cfg.HardExpiry, cfg.TTL)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:            ctx,
		cancel:         cancel,
		store:          cfg.Store,
		builder:        cfg.Builder,
		ttl:            cfg.TTL,
		hardExpiry:     cfg.HardExpiry,
		buildTimeout:   cfg.BuildTimeout,
		sweepInterval:  cfg.SweepInterval,
		stuckThreshold: cfg.StuckThreshold,
		globalSem:      semaphore.NewWeighted(cfg.MaxBuilds),
		chainSems:      make(map[types.ChainId]*semaphore.Weighted),
		now:            time.Now,
	}, nil
}

// Start launches the background sweepers.
func (s *Service) Start() {
	async.RunEvery(s.ctx, s.sweepInterval, s.sweepStuckSyncing)
	async.RunEvery(s.ctx, s.sweepInterval, s.sweepExpired)
	log.WithFields(logrus.Fields{
		"ttl":        s.ttl,
		"hardExpiry": s.hardExpiry,
	}).Info("Snapshot cache initialized")
}

// Stop cancels background work. In-flight builds finish delivering to their
// joiners before their contexts unwind.
func (s *Service) Stop() error {
	s.cancel()
	log.Info("Stopping snapshot cache service")
	return nil
}

// Status always reports healthy; build failures surface per request.
func (s *Service) Status() error {
	return nil
}

// Get returns the snapshot for a wallet on one chain. With refresh false a
// fresh entry is served directly and a stale one immediately with a rebuild
// scheduled behind it; a miss or an expired entry blocks the caller on the
// shared build. With refresh true the caller always joins or starts a build
// and waits for its result.
func (s *Service) Get(ctx context.Context, chainId types.ChainId, wallet types.Address, refresh bool) (*types.WalletSnapshot, error) {
	entry, err := s.store.CachedSnapshot(ctx, chainId, wallet)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !refresh {
		if s.isFresh(entry, now) {
			readsTotal.WithLabelValues(logging.ChainName(chainId), "fresh").Inc()
			return entry.Data, nil
		}
		if s.isStale(entry, now) {
			readsTotal.WithLabelValues(logging.ChainName(chainId), "stale").Inc()
			stale := entry.Data
			stale.Syncing = true
			s.scheduleBuild(chainId, wallet, stale, false)
			return stale, nil
		}
	}
	readsTotal.WithLabelValues(logging.ChainName(chainId), "build").Inc()
	var prev *types.WalletSnapshot
	if entry != nil {
		prev = entry.Data
	}
	return s.await(ctx, s.scheduleBuild(chainId, wallet, prev, refresh))
}

// Cached returns the stored document regardless of freshness, or nil when
// the wallet was never built on that chain. This backs the degraded serving
// path when providers are down; the document is marked syncing so clients
// know a rebuild is owed.
func (s *Service) Cached(ctx context.Context, chainId types.ChainId, wallet types.Address) (*types.WalletSnapshot, error) {
	entry, err := s.store.CachedSnapshot(ctx, chainId, wallet)
	if err != nil || entry == nil || entry.Data == nil {
		return nil, err
	}
	entry.Data.Syncing = true
	return entry.Data, nil
}

// Invalidate zeroes the entry's last_updated so the next read rebuilds it.
// Invalidating an absent or already invalidated entry is a no-op, which is
// what makes head-scanner replays harmless.
func (s *Service) Invalidate(ctx context.Context, chainId types.ChainId, wallet types.Address) error {
	return s.store.InvalidateSnapshot(ctx, chainId, wallet)
}

// ScheduleRefresh enqueues a background rebuild without blocking the caller.
// Used by the head scanner after invalidating a touched wallet.
func (s *Service) ScheduleRefresh(chainId types.ChainId, wallet types.Address) {
	s.flight.DoChan(buildKey(chainId, wallet), func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		entry, err := s.store.CachedSnapshot(readCtx, chainId, wallet)
		cancel()
		if err != nil {
			log.WithError(err).Debug("Skipping cached document before scheduled rebuild")
		}
		var prev *types.WalletSnapshot
		if entry != nil {
			prev = entry.Data
		}
		return s.build(chainId, wallet, prev, false)
	})
}

func (s *Service) isFresh(entry *types.CacheEntry, now time.Time) bool {
	return entry != nil && entry.Data != nil && now.Before(entry.LastUpdated.Add(s.ttl))
}

func (s *Service) isStale(entry *types.CacheEntry, now time.Time) bool {
	if entry == nil || entry.Data == nil || s.isFresh(entry, now) {
		return false
	}
	return now.Before(entry.LastUpdated.Add(s.hardExpiry))
}

// scheduleBuild starts a build for the key unless one is already in flight,
// in which case the returned channel joins it.
func (s *Service) scheduleBuild(chainId types.ChainId, wallet types.Address, prev *types.WalletSnapshot, refresh bool) <-chan singleflight.Result {
	return s.flight.DoChan(buildKey(chainId, wallet), func() (interface{}, error) {
		return s.build(chainId, wallet, prev, refresh)
	})
}

// await delivers the shared build result, or the caller's context error if
// the caller gives up first. The build itself runs on the service context
// and keeps going so the next reader benefits.
func (s *Service) await(ctx context.Context, ch <-chan singleflight.Result) (*types.WalletSnapshot, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.WalletSnapshot), nil
	}
}

// build runs one snapshot build under the global and per-chain limits and
// persists the result. Always invoked through the single-flight group.
func (s *Service) build(chainId types.ChainId, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*types.WalletSnapshot, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.buildTimeout)
	defer cancel()

	if err := s.globalSem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(types.ErrBuildTimeout, "waiting for a build slot")
	}
	defer s.globalSem.Release(1)
	chainSem := s.semaphoreFor(chainId)
	if err := chainSem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrapf(types.ErrBuildTimeout, "waiting for a chain %d build slot", chainId)
	}
	defer chainSem.Release(1)

	atomic.AddUint64(&s.builds, 1)
	buildsTotal.WithLabelValues(logging.ChainName(chainId)).Inc()
	started := s.now()

	if err := s.store.SetSyncing(ctx, chainId, wallet, true); err != nil {
		log.WithError(err).Debug("Could not flag cache row as syncing")
	}
	snap, err := s.builder.BuildSnapshot(ctx, chainId, wallet, prev, refresh)
	if err != nil {
		s.clearSyncing(chainId, wallet)
		if ctx.Err() == context.DeadlineExceeded {
			err = errors.Wrapf(types.ErrBuildTimeout, "no result within %s: %v", s.buildTimeout, err)
		}
		buildFailuresTotal.WithLabelValues(logging.ChainName(chainId)).Inc()
		return nil, err
	}
	now := s.now()
	entry := &types.CacheEntry{
		ChainId:     chainId,
		Wallet:      wallet,
		Data:        snap,
		LastUpdated: now,
		ExpiresAt:   now.Add(s.hardExpiry),
		Syncing:     false,
	}
	if err := s.store.SaveSnapshot(ctx, entry); err != nil {
		// The document is still good for this caller; the next read simply
		// rebuilds it.
		log.WithError(err).WithFields(logging.WalletFields(chainId, wallet)).
			Warn("Built snapshot could not be persisted")
	}
	buildSeconds.Observe(time.Since(started).Seconds())
	log.WithFields(logging.WalletFields(chainId, wallet)).WithFields(logrus.Fields{
		"tokens":  snap.Count,
		"elapsed": time.Since(started),
	}).Debug("Snapshot built")
	return snap, nil
}

// clearSyncing resets the persisted flag after a failed build on a context
// independent of the expired build context.
func (s *Service) clearSyncing(chainId types.ChainId, wallet types.Address) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SetSyncing(ctx, chainId, wallet, false); err != nil {
		log.WithError(err).Debug("Could not clear syncing flag after failed build")
	}
}

// semaphoreFor returns the chain's build semaphore, sized by the profile's
// scanner concurrency. The head scanner, the refresher and on-demand builds
// all contend on this one limiter.
func (s *Service) semaphoreFor(chainId types.ChainId) *semaphore.Weighted {
	s.chainSemsLock.Lock()
	defer s.chainSemsLock.Unlock()
	if sem, ok := s.chainSems[chainId]; ok {
		return sem
	}
	limit := int64(fallbackChainConcurrency)
	if profile, err := chains.ById(chainId); err == nil {
		limit = profile.ScannerConcurrency
	}
	sem := semaphore.NewWeighted(limit)
	s.chainSems[chainId] = sem
	return sem
}

func (s *Service) sweepStuckSyncing() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	n, err := s.store.ClearStuckSyncing(ctx, s.stuckThreshold)
	if err != nil {
		log.WithError(err).Error("Could not clear stuck syncing flags")
		return
	}
	if n > 0 {
		stuckSyncClearedTotal.Add(float64(n))
		log.WithField("rows", n).Warn("Cleared syncing flags left behind by interrupted builds")
	}
}

func (s *Service) sweepExpired() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	n, err := s.store.DeleteExpiredSnapshots(ctx, s.hardExpiry)
	if err != nil {
		log.WithError(err).Error("Could not prune expired snapshots")
		return
	}
	if n > 0 {
		expiredPrunedTotal.Add(float64(n))
		log.WithField("rows", n).Debug("Pruned expired snapshots")
	}
}

func buildKey(chainId types.ChainId, wallet types.Address) string {
	return fmt.Sprintf("%d:%s", chainId, wallet)
}
