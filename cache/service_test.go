package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/runtime"
	"github.com/tokenscopelabs/tokenscope/types"
)

var _ = runtime.Service(&Service{})

const (
	testChain   = types.ChainId(999)
	testWallet  = types.Address("0x00000000000000000000000000000000000000aa")
	otherWallet = types.Address("0x00000000000000000000000000000000000000bb")
)

type fakeBuilder struct {
	mu          sync.Mutex
	calls       int
	lastPrev    *types.WalletSnapshot
	lastRefresh bool
	delay       time.Duration
	gate        chan struct{}
	entered     chan struct{}
	err         error
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{entered: make(chan struct{}, 32)}
}

func (f *fakeBuilder) BuildSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*types.WalletSnapshot, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.lastPrev = prev
	f.lastRefresh = refresh
	gate, delay, err := f.gate, f.delay, f.err
	f.mu.Unlock()
	f.entered <- struct{}{}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.WalletSnapshot{
		ChainId:     chainId,
		Wallet:      wallet,
		Native:      "0",
		Result:      []*types.TokenBalance{},
		BlockNumber: uint64(1000 + n),
	}, nil
}

func (f *fakeBuilder) buildCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeBuilder) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBuilder) prevBlock() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lastPrev == nil {
		return 0
	}
	return f.lastPrev.BlockNumber
}

type fakeCacheStore struct {
	mu          sync.Mutex
	entries     map[string]*types.CacheEntry
	clearedWith time.Duration
	prunedWith  time.Duration
	sweepErr    error
}

func newFakeCacheStore() *fakeCacheStore {
	return &fakeCacheStore{entries: make(map[string]*types.CacheEntry)}
}

func storeKey(chainId types.ChainId, wallet types.Address) string {
	return fmt.Sprintf("%d:%s", chainId, wallet)
}

func (f *fakeCacheStore) CachedSnapshot(_ context.Context, chainId types.ChainId, wallet types.Address) (*types.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[storeKey(chainId, wallet)]
	if !ok {
		return nil, nil
	}
	// Each read hands out an independent document, like a store that
	// unmarshals rows per query.
	cp := *e
	if e.Data != nil {
		data := *e.Data
		cp.Data = &data
	}
	return &cp, nil
}

func (f *fakeCacheStore) SaveSnapshot(_ context.Context, entry *types.CacheEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.entries[storeKey(entry.ChainId, entry.Wallet)] = &cp
	return nil
}

func (f *fakeCacheStore) SetSyncing(_ context.Context, chainId types.ChainId, wallet types.Address, syncing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[storeKey(chainId, wallet)]; ok {
		e.Syncing = syncing
	}
	return nil
}

func (f *fakeCacheStore) InvalidateSnapshot(_ context.Context, chainId types.ChainId, wallet types.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[storeKey(chainId, wallet)]; ok {
		e.LastUpdated = time.Time{}
	}
	return nil
}

func (f *fakeCacheStore) ClearStuckSyncing(_ context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearedWith = olderThan
	return 2, f.sweepErr
}

func (f *fakeCacheStore) DeleteExpiredSnapshots(_ context.Context, hardExpiry time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedWith = hardExpiry
	return 1, f.sweepErr
}

func (f *fakeCacheStore) storedBlock(chainId types.ChainId, wallet types.Address) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[storeKey(chainId, wallet)]
	if !ok || e.Data == nil {
		return 0
	}
	return e.Data.BlockNumber
}

func (f *fakeCacheStore) seed(chainId types.ChainId, wallet types.Address, block uint64, age time.Duration) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[storeKey(chainId, wallet)] = &types.CacheEntry{
		ChainId: chainId,
		Wallet:  wallet,
		Data: &types.WalletSnapshot{
			ChainId:     chainId,
			Wallet:      wallet,
			Native:      "0",
			Result:      []*types.TokenBalance{},
			BlockNumber: block,
		},
		LastUpdated: now.Add(-age),
		ExpiresAt:   now.Add(-age).Add(DefaultHardExpiry),
	}
}

func newTestService(t *testing.T, store *fakeCacheStore, builder Builder, mutate func(*Config)) *Service {
	t.Helper()
	cfg := &Config{Store: store, Builder: builder}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s
}

func TestGetMissBuildsAndPersists(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), snap.BlockNumber)
	assert.False(t, snap.Syncing)
	assert.Equal(t, 1, builder.buildCalls())

	store.mu.Lock()
	entry := store.entries[storeKey(testChain, testWallet)]
	store.mu.Unlock()
	require.NotNil(t, entry)
	assert.False(t, entry.Syncing)
	assert.Equal(t, DefaultHardExpiry, entry.ExpiresAt.Sub(entry.LastUpdated))
}

func TestGetFreshServesCached(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 0)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), snap.BlockNumber)
	assert.False(t, snap.Syncing)
	assert.Equal(t, 0, builder.buildCalls())
}

func TestGetStaleServesOldAndRebuilds(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 5*time.Minute)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), snap.BlockNumber)
	assert.True(t, snap.Syncing, "stale responses advertise the pending rebuild")

	require.Eventually(t, func() bool {
		return store.storedBlock(testChain, testWallet) == 1001
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, builder.buildCalls())
	assert.Equal(t, uint64(500), builder.prevBlock())
}

func TestGetExpiredBlocksOnRebuild(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 2*time.Hour)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), snap.BlockNumber)
	// The outdated document still scopes the discovery scan window.
	assert.Equal(t, uint64(500), builder.prevBlock())
}

func TestRefreshBypassesFreshCache(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 0)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	snap, err := s.Get(context.Background(), testChain, testWallet, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), snap.BlockNumber)
	builder.mu.Lock()
	refresh := builder.lastRefresh
	builder.mu.Unlock()
	assert.True(t, refresh)
}

func TestConcurrentReadersShareOneBuild(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	builder.gate = make(chan struct{})
	s := newTestService(t, store, builder, nil)

	const readers = 8
	results := make(chan uint64, readers)
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		go func() {
			snap, err := s.Get(context.Background(), testChain, testWallet, false)
			if err != nil {
				errs <- err
				return
			}
			results <- snap.BlockNumber
		}()
	}
	<-builder.entered
	// Give the remaining readers time to join the in-flight build.
	time.Sleep(100 * time.Millisecond)
	close(builder.gate)

	for i := 0; i < readers; i++ {
		select {
		case block := <-results:
			assert.Equal(t, uint64(1001), block)
		case err := <-errs:
			t.Fatalf("reader failed: %v", err)
		case <-time.After(2 * time.Second):
			t.Fatal("reader never returned")
		}
	}
	assert.Equal(t, 1, builder.buildCalls())
	assert.Equal(t, uint64(1), atomic.LoadUint64(&s.builds))
}

func TestBuildFailureSharedThenForgotten(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	builder.gate = make(chan struct{})
	builder.setErr(errors.New("discovery blew up"))
	s := newTestService(t, store, builder, nil)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Get(context.Background(), testChain, testWallet, false)
			errs <- err
		}()
	}
	<-builder.entered
	time.Sleep(100 * time.Millisecond)
	close(builder.gate)
	for i := 0; i < 2; i++ {
		err := <-errs
		require.Error(t, err)
		assert.Contains(t, err.Error(), "discovery blew up")
	}
	require.Equal(t, 1, builder.buildCalls())

	// A failed flight must not poison the key.
	builder.mu.Lock()
	builder.gate = nil
	builder.mu.Unlock()
	builder.setErr(nil)
	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1002), snap.BlockNumber)
}

func TestBuildTimeout(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	builder.delay = 5 * time.Second
	s := newTestService(t, store, builder, func(cfg *Config) {
		cfg.BuildTimeout = 50 * time.Millisecond
	})

	_, err := s.Get(context.Background(), testChain, testWallet, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrBuildTimeout), "got: %v", err)
}

func TestAbandonedCallerDoesNotCancelBuild(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	builder.delay = 150 * time.Millisecond
	s := newTestService(t, store, builder, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Get(ctx, testChain, testWallet, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got: %v", err)

	// The build keeps running on the service context and lands for the
	// next reader.
	require.Eventually(t, func() bool {
		return store.storedBlock(testChain, testWallet) == 1001
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleRefreshCarriesPreviousDocument(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 742, 0)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	s.ScheduleRefresh(testChain, testWallet)
	require.Eventually(t, func() bool {
		return store.storedBlock(testChain, testWallet) == 1001
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(742), builder.prevBlock())
}

func TestInvalidatedEntryRebuildsOnRead(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 0)
	builder := newFakeBuilder()
	s := newTestService(t, store, builder, nil)

	require.NoError(t, s.Invalidate(context.Background(), testChain, testWallet))
	// Invalidation is idempotent and safe on absent rows.
	require.NoError(t, s.Invalidate(context.Background(), testChain, testWallet))
	require.NoError(t, s.Invalidate(context.Background(), testChain, otherWallet))

	snap, err := s.Get(context.Background(), testChain, testWallet, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1001), snap.BlockNumber)
	assert.Equal(t, 1, builder.buildCalls())
}

func TestCachedServesRegardlessOfAge(t *testing.T) {
	store := newFakeCacheStore()
	store.seed(testChain, testWallet, 500, 3*time.Hour)
	s := newTestService(t, store, newFakeBuilder(), nil)

	snap, err := s.Cached(context.Background(), testChain, testWallet)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(500), snap.BlockNumber)
	assert.True(t, snap.Syncing)

	missing, err := s.Cached(context.Background(), testChain, otherWallet)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGlobalBuildLimitSerializesDistinctKeys(t *testing.T) {
	store := newFakeCacheStore()
	builder := newFakeBuilder()
	builder.gate = make(chan struct{})
	s := newTestService(t, store, builder, func(cfg *Config) {
		cfg.MaxBuilds = 1
	})

	type outcome struct {
		block uint64
		err   error
	}
	done := make(chan outcome, 2)
	for _, w := range []types.Address{testWallet, otherWallet} {
		wallet := w
		go func() {
			snap, err := s.Get(context.Background(), testChain, wallet, false)
			if err != nil {
				done <- outcome{err: err}
				return
			}
			done <- outcome{block: snap.BlockNumber}
		}()
	}
	<-builder.entered
	select {
	case <-builder.entered:
		t.Fatal("second build entered while the slot was held")
	case <-time.After(100 * time.Millisecond):
	}
	close(builder.gate)

	blocks := map[uint64]bool{}
	for i := 0; i < 2; i++ {
		select {
		case out := <-done:
			require.NoError(t, out.err)
			blocks[out.block] = true
		case <-time.After(2 * time.Second):
			t.Fatal("build never finished")
		}
	}
	assert.Equal(t, map[uint64]bool{1001: true, 1002: true}, blocks)
}

func TestSweepersPassConfiguredThresholds(t *testing.T) {
	store := newFakeCacheStore()
	s := newTestService(t, store, newFakeBuilder(), func(cfg *Config) {
		cfg.StuckThreshold = 7 * time.Minute
		cfg.HardExpiry = 45 * time.Minute
	})

	s.sweepStuckSyncing()
	s.sweepExpired()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 7*time.Minute, store.clearedWith)
	assert.Equal(t, 45*time.Minute, store.prunedWith)
}

func TestSweeperSurvivesStoreErrors(t *testing.T) {
	store := newFakeCacheStore()
	store.sweepErr = errors.New("connection reset")
	s := newTestService(t, store, newFakeBuilder(), nil)

	s.sweepStuckSyncing()
	s.sweepExpired()
}
