package tracked

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/runtime"
	"github.com/tokenscopelabs/tokenscope/types"
)

var _ = runtime.Service(&Service{})
var _ = db.TrackedStore(&fakeTrackedStore{})

const (
	walletA = types.Address("0x00000000000000000000000000000000000000aa")
	walletB = types.Address("0x00000000000000000000000000000000000000bb")
)

type fakeTrackedStore struct {
	mu      sync.Mutex
	wallets map[types.Address]*types.TrackedWallet
	listErr error
}

func newFakeTrackedStore() *fakeTrackedStore {
	return &fakeTrackedStore{wallets: make(map[types.Address]*types.TrackedWallet)}
}

func (f *fakeTrackedStore) UpsertTrackedWallet(_ context.Context, wallet types.Address, chainIds []types.ChainId) (*types.TrackedWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tw, ok := f.wallets[wallet]
	if !ok {
		tw = &types.TrackedWallet{Wallet: wallet, FirstSeen: time.Now()}
		f.wallets[wallet] = tw
	}
	seen := make(map[types.ChainId]bool)
	for _, id := range tw.Chains {
		seen[id] = true
	}
	for _, id := range chainIds {
		if !seen[id] {
			tw.Chains = append(tw.Chains, id)
			seen[id] = true
		}
	}
	sort.Slice(tw.Chains, func(i, j int) bool { return tw.Chains[i] < tw.Chains[j] })
	tw.Active = true
	tw.LastSeen = time.Now()
	cp := *tw
	cp.Chains = append([]types.ChainId(nil), tw.Chains...)
	return &cp, nil
}

func (f *fakeTrackedStore) DeactivateTrackedWallet(_ context.Context, wallet types.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tw, ok := f.wallets[wallet]
	if !ok || !tw.Active {
		return errors.Wrapf(types.ErrNotTracked, "wallet %s", wallet)
	}
	tw.Active = false
	return nil
}

func (f *fakeTrackedStore) TrackedWallets(_ context.Context) ([]*types.TrackedWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*types.TrackedWallet, 0, len(f.wallets))
	for _, tw := range f.wallets {
		if tw.Active {
			cp := *tw
			out = append(out, &cp)
		}
	}
	return out, nil
}

type getCall struct {
	chainId types.ChainId
	wallet  types.Address
	refresh bool
}

type fakeGetter struct {
	mu    sync.Mutex
	calls []getCall
}

func (f *fakeGetter) Get(_ context.Context, chainId types.ChainId, wallet types.Address, refresh bool) (*types.WalletSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, getCall{chainId: chainId, wallet: wallet, refresh: refresh})
	return &types.WalletSnapshot{ChainId: chainId, Wallet: wallet}, nil
}

func (f *fakeGetter) forced() []getCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]getCall, 0)
	for _, c := range f.calls {
		if c.refresh {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeGetter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRegistry(t *testing.T, store db.TrackedStore, getter SnapshotGetter) *Service {
	t.Helper()
	s, err := NewService(context.Background(), &Config{Store: store, Snapshots: getter})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Stop())
	})
	return s
}

func TestAddRejectsBadInput(t *testing.T) {
	s := newTestRegistry(t, newFakeTrackedStore(), &fakeGetter{})

	_, err := s.Add(context.Background(), walletA, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidInput))

	_, err = s.Add(context.Background(), walletA, []types.ChainId{424242})
	assert.True(t, errors.Is(err, types.ErrInvalidInput))
}

func TestAddRegistersAndKicksBuilds(t *testing.T) {
	store := newFakeTrackedStore()
	getter := &fakeGetter{}
	s := newTestRegistry(t, store, getter)

	tw, err := s.Add(context.Background(), walletA, []types.ChainId{1, 56, 1})
	require.NoError(t, err)
	assert.Equal(t, []types.ChainId{1, 56}, tw.Chains)
	assert.True(t, s.IsTracked(1, walletA))
	assert.True(t, s.IsTracked(56, walletA))
	assert.False(t, s.IsTracked(8453, walletA))

	require.Eventually(t, func() bool {
		return len(getter.forced()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	for _, c := range getter.forced() {
		assert.Equal(t, walletA, c.wallet)
		assert.True(t, c.refresh)
	}
}

func TestAddUnionsChainSets(t *testing.T) {
	store := newFakeTrackedStore()
	s := newTestRegistry(t, store, &fakeGetter{})

	_, err := s.Add(context.Background(), walletA, []types.ChainId{1, 56})
	require.NoError(t, err)
	tw, err := s.Add(context.Background(), walletA, []types.ChainId{56, 8453})
	require.NoError(t, err)
	assert.Equal(t, []types.ChainId{1, 56, 8453}, tw.Chains)
}

func TestRemoveTwiceReturnsNotTracked(t *testing.T) {
	store := newFakeTrackedStore()
	s := newTestRegistry(t, store, &fakeGetter{})

	_, err := s.Add(context.Background(), walletA, []types.ChainId{1})
	require.NoError(t, err)

	require.NoError(t, s.Remove(context.Background(), walletA))
	assert.False(t, s.IsTracked(1, walletA))

	err = s.Remove(context.Background(), walletA)
	assert.True(t, errors.Is(err, types.ErrNotTracked))
}

func TestRemoveKeepsRowOutOfList(t *testing.T) {
	store := newFakeTrackedStore()
	s := newTestRegistry(t, store, &fakeGetter{})

	_, err := s.Add(context.Background(), walletA, []types.ChainId{1})
	require.NoError(t, err)
	_, err = s.Add(context.Background(), walletB, []types.ChainId{1})
	require.NoError(t, err)
	require.NoError(t, s.Remove(context.Background(), walletA))

	listed, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, walletB, listed[0].Wallet)
}

func TestReloadActiveSetFromStore(t *testing.T) {
	store := newFakeTrackedStore()
	_, err := store.UpsertTrackedWallet(context.Background(), walletA, []types.ChainId{1, 8453})
	require.NoError(t, err)
	_, err = store.UpsertTrackedWallet(context.Background(), walletB, []types.ChainId{1})
	require.NoError(t, err)
	s := newTestRegistry(t, store, &fakeGetter{})

	s.reloadActiveSet()

	set := s.TrackedSet(1)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	assert.Equal(t, []types.Address{walletA, walletB}, set)
	assert.Equal(t, []types.Address{walletA}, s.TrackedSet(8453))
	assert.Empty(t, s.TrackedSet(56))
}

func TestReloadSurvivesStoreError(t *testing.T) {
	store := newFakeTrackedStore()
	_, err := store.UpsertTrackedWallet(context.Background(), walletA, []types.ChainId{1})
	require.NoError(t, err)
	s := newTestRegistry(t, store, &fakeGetter{})
	s.reloadActiveSet()

	store.mu.Lock()
	store.listErr = errors.New("connection refused")
	store.mu.Unlock()
	s.reloadActiveSet()

	// The previous set keeps serving.
	assert.True(t, s.IsTracked(1, walletA))
}

func TestRefreshTrackedWalksEveryPair(t *testing.T) {
	store := newFakeTrackedStore()
	_, err := store.UpsertTrackedWallet(context.Background(), walletA, []types.ChainId{1, 56})
	require.NoError(t, err)
	_, err = store.UpsertTrackedWallet(context.Background(), walletB, []types.ChainId{1})
	require.NoError(t, err)
	getter := &fakeGetter{}
	s := newTestRegistry(t, store, getter)
	s.reloadActiveSet()

	s.refreshTracked()

	require.Equal(t, 3, getter.callCount())
	for _, c := range getter.forced() {
		t.Fatalf("refresher must not force builds, got %+v", c)
	}
}
