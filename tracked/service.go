// Package tracked keeps the registry of wallets the engine warms proactively.
// Registered wallets get an immediate build, periodic refreshes through the
// snapshot cache, and membership in the in-memory set the head scanner
// filters logs against.
package tracked

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/async"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "tracked")

const (
	// DefaultRefreshInterval schedules the pass that re-reads every tracked
	// wallet through the cache.
	DefaultRefreshInterval = 60 * time.Second
	// DefaultSetRefreshInterval reloads the in-memory active set from the
	// database. Head-scanner readers may observe a registration up to this
	// much later.
	DefaultSetRefreshInterval = 30 * time.Second
	// refreshPassTimeout bounds one cache read during a refresh pass.
	refreshPassTimeout = 30 * time.Second
)

// SnapshotGetter is the cache surface the registry drives: reads that follow
// the freshness contract so a stale entry schedules its own rebuild.
type SnapshotGetter interface {
	Get(ctx context.Context, chainId types.ChainId, wallet types.Address, refresh bool) (*types.WalletSnapshot, error)
}

// Config holds the registry dependencies and tunables.
type Config struct {
	Store              db.TrackedStore
	Snapshots          SnapshotGetter
	RefreshInterval    time.Duration
	SetRefreshInterval time.Duration
}

// Service is the tracked-wallet registry and refresher.
type Service struct {
	ctx                context.Context
	cancel             context.CancelFunc
	store              db.TrackedStore
	snapshots          SnapshotGetter
	refreshInterval    time.Duration
	setRefreshInterval time.Duration
	setLock            sync.RWMutex
	activeSet          map[types.ChainId]map[types.Address]struct{}
}

// NewService builds the registry. Background loops start with Start.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("tracked registry requires a store")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("tracked registry requires the snapshot cache")
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SetRefreshInterval == 0 {
		cfg.SetRefreshInterval = DefaultSetRefreshInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Service{
		ctx:                ctx,
		cancel:             cancel,
		store:              cfg.Store,
		snapshots:          cfg.Snapshots,
		refreshInterval:    cfg.RefreshInterval,
		setRefreshInterval: cfg.SetRefreshInterval,
		activeSet:          make(map[types.ChainId]map[types.Address]struct{}),
	}, nil
}

// Start launches the active-set loader and the refresher.
func (s *Service) Start() {
	async.RunNowAndEvery(s.ctx, s.setRefreshInterval, s.reloadActiveSet)
	async.RunEvery(s.ctx, s.refreshInterval, s.refreshTracked)
	log.WithField("refreshInterval", s.refreshInterval).Info("Tracked wallet registry initialized")
}

// Stop cancels the background loops.
func (s *Service) Stop() error {
	s.cancel()
	log.Info("Stopping tracked wallet registry")
	return nil
}

// Status always reports healthy; refresh failures are per wallet.
func (s *Service) Status() error {
	return nil
}

// Add registers a wallet on the given chains, unioning with any existing
// registration, and kicks off a forced build per chain so the first read
// after tracking is warm. Adding the same wallet twice is harmless.
func (s *Service) Add(ctx context.Context, wallet types.Address, chainIds []types.ChainId) (*types.TrackedWallet, error) {
	if len(chainIds) == 0 {
		return nil, errors.Wrap(types.ErrInvalidInput, "no chains given")
	}
	deduped := make([]types.ChainId, 0, len(chainIds))
	seen := make(map[types.ChainId]bool)
	for _, id := range chainIds {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !chains.IsSupported(id) {
			return nil, errors.Wrapf(types.ErrInvalidInput, "unsupported chain %d", id)
		}
		deduped = append(deduped, id)
	}
	tw, err := s.store.UpsertTrackedWallet(ctx, wallet, deduped)
	if err != nil {
		return nil, err
	}
	s.noteActive(tw)
	for _, id := range deduped {
		chainId := id
		go func() {
			if _, err := s.snapshots.Get(s.ctx, chainId, wallet, true); err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"chain":  chainId,
					"wallet": wallet,
				}).Debug("Initial build for tracked wallet failed")
			}
		}()
	}
	addsTotal.Inc()
	log.WithFields(logrus.Fields{
		"wallet": wallet,
		"chains": tw.Chains,
	}).Info("Wallet registered for tracking")
	return tw, nil
}

// Remove deactivates a registration, keeping the row and its cache entries.
func (s *Service) Remove(ctx context.Context, wallet types.Address) error {
	if err := s.store.DeactivateTrackedWallet(ctx, wallet); err != nil {
		return err
	}
	s.dropActive(wallet)
	removesTotal.Inc()
	log.WithField("wallet", wallet).Info("Wallet untracked")
	return nil
}

// List enumerates active registrations.
func (s *Service) List(ctx context.Context) ([]*types.TrackedWallet, error) {
	return s.store.TrackedWallets(ctx)
}

// IsTracked reports membership in the in-memory active set.
func (s *Service) IsTracked(chainId types.ChainId, wallet types.Address) bool {
	s.setLock.RLock()
	defer s.setLock.RUnlock()
	_, ok := s.activeSet[chainId][wallet]
	return ok
}

// TrackedSet returns the active wallets for one chain, in no particular
// order. The head scanner filters transfer logs against this.
func (s *Service) TrackedSet(chainId types.ChainId) []types.Address {
	s.setLock.RLock()
	defer s.setLock.RUnlock()
	set := s.activeSet[chainId]
	out := make([]types.Address, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	return out
}

// reloadActiveSet rebuilds the in-memory set from the database.
func (s *Service) reloadActiveSet() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	wallets, err := s.store.TrackedWallets(ctx)
	if err != nil {
		log.WithError(err).Error("Could not reload tracked wallet set")
		return
	}
	next := make(map[types.ChainId]map[types.Address]struct{})
	for _, tw := range wallets {
		for _, chainId := range tw.Chains {
			if next[chainId] == nil {
				next[chainId] = make(map[types.Address]struct{})
			}
			next[chainId][tw.Wallet] = struct{}{}
		}
	}
	s.setLock.Lock()
	s.activeSet = next
	s.setLock.Unlock()
	activeWallets.Set(float64(len(wallets)))
}

// refreshTracked walks every (wallet, chain) pair through the cache read
// path. Stale entries schedule their own rebuilds, so a pass is cheap; the
// per-chain walkers keep chains independent while builds stay bounded by the
// cache's semaphores.
func (s *Service) refreshTracked() {
	byChain := s.chainWallets()
	if len(byChain) == 0 {
		return
	}
	var wg sync.WaitGroup
	for chainId, wallets := range byChain {
		wg.Add(1)
		go func(chainId types.ChainId, wallets []types.Address) {
			defer wg.Done()
			for _, wallet := range wallets {
				if s.ctx.Err() != nil {
					return
				}
				ctx, cancel := context.WithTimeout(s.ctx, refreshPassTimeout)
				_, err := s.snapshots.Get(ctx, chainId, wallet, false)
				cancel()
				if err != nil {
					log.WithError(err).WithFields(logrus.Fields{
						"chain":  chainId,
						"wallet": wallet,
					}).Debug("Tracked wallet refresh failed")
				}
			}
		}(chainId, wallets)
	}
	wg.Wait()
	refreshPassesTotal.Inc()
}

func (s *Service) chainWallets() map[types.ChainId][]types.Address {
	s.setLock.RLock()
	defer s.setLock.RUnlock()
	out := make(map[types.ChainId][]types.Address, len(s.activeSet))
	for chainId, set := range s.activeSet {
		wallets := make([]types.Address, 0, len(set))
		for w := range set {
			wallets = append(wallets, w)
		}
		out[chainId] = wallets
	}
	return out
}

func (s *Service) noteActive(tw *types.TrackedWallet) {
	s.setLock.Lock()
	defer s.setLock.Unlock()
	for _, chainId := range tw.Chains {
		if s.activeSet[chainId] == nil {
			s.activeSet[chainId] = make(map[types.Address]struct{})
		}
		s.activeSet[chainId][tw.Wallet] = struct{}{}
	}
}

func (s *Service) dropActive(wallet types.Address) {
	s.setLock.Lock()
	defer s.setLock.Unlock()
	for _, set := range s.activeSet {
		delete(set, wallet)
	}
}
