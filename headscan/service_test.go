package headscan

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/runtime"
	"github.com/tokenscopelabs/tokenscope/types"
)

const (
	scanChain = types.ChainId(31415)
	walletA   = types.Address("0x00000000000000000000000000000000000000aa")
	walletB   = types.Address("0x00000000000000000000000000000000000000bb")
	tokenAddr = types.Address("0x00000000000000000000000000000000000000cc")
)

var _ = runtime.Service(&Service{})
var _ = db.SyncStore(&fakeSyncStore{})
var _ = db.TransferStore(&fakeRecordStore{})

func scanProfile() *chains.Profile {
	return &chains.Profile{Id: scanChain, Name: "scantest", ScannerConcurrency: 2}
}

type fakeHead struct {
	mu        sync.Mutex
	latest    uint64
	err       error
	panicOnce bool
	quorums   []int
}

func (f *fakeHead) QuorumBlockNumber(_ context.Context, quorum int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quorums = append(f.quorums, quorum)
	if f.panicOnce {
		f.panicOnce = false
		panic("provider client state corrupted")
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.latest, nil
}

type crawlCall struct {
	wallets  []types.Address
	from, to uint64
}

type fakeTransferSource struct {
	mu      sync.Mutex
	records []*types.TransferRecord
	err     error
	calls   []crawlCall
}

func (f *fakeTransferSource) TransfersTouching(_ context.Context, wallets []types.Address, from, to uint64) ([]*types.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, crawlCall{wallets: wallets, from: from, to: to})
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fakeTrackedSource struct {
	wallets []types.Address
}

func (f *fakeTrackedSource) TrackedSet(types.ChainId) []types.Address {
	return f.wallets
}

type fakeInvalidator struct {
	mu          sync.Mutex
	invalidated []types.Address
	refreshed   []types.Address
	err         error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, _ types.ChainId, wallet types.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.invalidated = append(f.invalidated, wallet)
	return nil
}

func (f *fakeInvalidator) ScheduleRefresh(_ types.ChainId, wallet types.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, wallet)
}

type fakeSyncStore struct {
	mu     sync.Mutex
	status *types.BlockSyncStatus
	err    error
}

func (f *fakeSyncStore) BlockSyncStatus(_ context.Context, _ types.ChainId) (*types.BlockSyncStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.status == nil {
		return nil, nil
	}
	cp := *f.status
	return &cp, nil
}

func (f *fakeSyncStore) SaveBlockSyncStatus(_ context.Context, status *types.BlockSyncStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := *status
	f.status = &cp
	return nil
}

type fakeRecordStore struct {
	mu    sync.Mutex
	saves [][]*types.TransferRecord
	err   error
}

func (f *fakeRecordStore) SaveTransfers(_ context.Context, records []*types.TransferRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saves = append(f.saves, records)
	return nil
}

func (f *fakeRecordStore) TransfersByWallet(_ context.Context, _ types.ChainId, _ types.Address, _, _ int) (*types.TransferPage, error) {
	return &types.TransferPage{}, nil
}

func (f *fakeRecordStore) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saves)
}

type scanFixture struct {
	svc       *Service
	head      *fakeHead
	source    *fakeTransferSource
	inv       *fakeInvalidator
	syncStore *fakeSyncStore
	records   *fakeRecordStore
}

func newScanFixture(t *testing.T, tracked []types.Address, mutate func(*Config)) *scanFixture {
	t.Helper()
	f := &scanFixture{
		head:      &fakeHead{},
		source:    &fakeTransferSource{},
		inv:       &fakeInvalidator{},
		syncStore: &fakeSyncStore{},
		records:   &fakeRecordStore{},
	}
	cfg := &Config{
		Profile:     scanProfile(),
		Head:        f.head,
		Transfers:   f.source,
		Tracked:     &fakeTrackedSource{wallets: tracked},
		Snapshots:   f.inv,
		SyncStore:   f.syncStore,
		RecordStore: f.records,
	}
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := NewService(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, svc.Stop())
	})
	f.svc = svc
	return f
}

func transferAt(block uint64, index uint, wallet types.Address) *types.TransferRecord {
	return &types.TransferRecord{
		ChainId:      scanChain,
		Wallet:       wallet,
		TokenAddress: tokenAddr,
		TxHash:       "0xfeed",
		LogIndex:     index,
		BlockNumber:  block,
		Direction:    types.DirectionIn,
		Counterparty: walletB,
		Amount:       "1",
	}
}

func TestFirstRunStartsAtHead(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.head.latest = 5000

	require.NoError(t, f.svc.tick())

	assert.Equal(t, uint64(5000), f.svc.synced)
	require.NotNil(t, f.syncStore.status)
	assert.Equal(t, uint64(5000), f.syncStore.status.SyncedBlock)
	assert.Equal(t, types.SyncStatusActive, f.syncStore.status.Status)
	assert.Empty(t, f.source.calls, "nothing to crawl on the first pass")
	assert.Equal(t, []int{headQuorum, headQuorum}, f.head.quorums)
}

func TestTickScansWindowAndAdvances(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA, walletB}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100, LatestBlock: 100}
	f.head.latest = 150
	f.source.records = []*types.TransferRecord{
		transferAt(120, 1, walletA),
		transferAt(130, 2, walletB),
	}

	require.NoError(t, f.svc.tick())

	require.Len(t, f.source.calls, 1)
	assert.Equal(t, uint64(101), f.source.calls[0].from)
	assert.Equal(t, uint64(150), f.source.calls[0].to)
	assert.ElementsMatch(t, []types.Address{walletA, walletB}, f.source.calls[0].wallets)

	assert.Equal(t, uint64(150), f.svc.synced)
	assert.Equal(t, uint64(150), f.syncStore.status.SyncedBlock)
	assert.Equal(t, uint64(150), f.syncStore.status.LatestBlock)
	assert.Equal(t, 1, f.records.saveCount())
	assert.ElementsMatch(t, []types.Address{walletA, walletB}, f.inv.invalidated)
	assert.ElementsMatch(t, []types.Address{walletA, walletB}, f.inv.refreshed)
}

func TestCatchupCapsWindow(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, func(cfg *Config) {
		cfg.MaxCatchup = 200
	})
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 1000

	require.NoError(t, f.svc.tick())
	require.Len(t, f.source.calls, 1)
	assert.Equal(t, uint64(101), f.source.calls[0].from)
	assert.Equal(t, uint64(300), f.source.calls[0].to)
	assert.Equal(t, uint64(300), f.svc.synced)

	require.NoError(t, f.svc.tick())
	require.Len(t, f.source.calls, 2)
	assert.Equal(t, uint64(301), f.source.calls[1].from)
	assert.Equal(t, uint64(500), f.source.calls[1].to)
}

func TestReorgRewindsCursor(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 500}
	f.head.latest = 480

	require.NoError(t, f.svc.tick())

	require.Len(t, f.source.calls, 1)
	assert.Equal(t, uint64(449), f.source.calls[0].from, "448 is the rewound cursor")
	assert.Equal(t, uint64(480), f.source.calls[0].to)
	assert.Equal(t, uint64(480), f.svc.synced)
}

func TestRewindClampsToGenesis(t *testing.T) {
	assert.Equal(t, uint64(0), rewind(10, 32))
	assert.Equal(t, uint64(68), rewind(100, 32))
}

func TestReplaySuppressesDuplicates(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 120
	f.source.records = []*types.TransferRecord{transferAt(110, 1, walletA)}

	require.NoError(t, f.svc.tick())
	require.Equal(t, 1, f.records.saveCount())
	require.Len(t, f.inv.invalidated, 1)

	// A reorg replays the same window and surfaces the same record.
	f.head.latest = 105
	require.NoError(t, f.svc.tick())

	assert.Equal(t, 1, f.records.saveCount(), "replayed record must not be re-saved")
	assert.Len(t, f.inv.invalidated, 1, "replayed record must not re-invalidate")
}

func TestStoreFailureLeavesWindowForRetry(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 120
	f.source.records = []*types.TransferRecord{transferAt(110, 1, walletA)}
	f.records.err = errors.Wrap(types.ErrDatabase, "connection reset")

	err := f.svc.tick()
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDatabase))
	assert.Equal(t, uint64(100), f.svc.synced, "cursor must not advance past unprocessed records")

	// Recover: the same window replays in full because nothing was marked
	// as seen.
	f.records.mu.Lock()
	f.records.err = nil
	f.records.mu.Unlock()
	require.NoError(t, f.svc.tick())
	assert.Equal(t, 1, f.records.saveCount())
	assert.Equal(t, uint64(120), f.svc.synced)
}

func TestHeadFailureSkipsTickQuietly(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.err = errors.Wrap(types.ErrProviderUnavailable, "all benched")

	require.NoError(t, f.svc.tick())
	assert.Equal(t, uint64(100), f.svc.synced)
	assert.Empty(t, f.source.calls)
}

func TestCrawlFailureRetainsWindow(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 150
	f.source.err = errors.Wrap(types.ErrProviderUnavailable, "filter rejected")

	require.NoError(t, f.svc.tick())
	assert.Equal(t, uint64(100), f.svc.synced)

	f.source.mu.Lock()
	f.source.err = nil
	f.source.mu.Unlock()
	require.NoError(t, f.svc.tick())
	require.Len(t, f.source.calls, 2)
	assert.Equal(t, f.source.calls[0], f.source.calls[1], "same window retried")
	assert.Equal(t, uint64(150), f.svc.synced)
}

func TestEmptyTrackedSetStillAdvances(t *testing.T) {
	f := newScanFixture(t, nil, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 150

	require.NoError(t, f.svc.tick())
	assert.Empty(t, f.source.calls)
	assert.Equal(t, uint64(150), f.svc.synced)
}

func TestPanicReloadsCursor(t *testing.T) {
	f := newScanFixture(t, []types.Address{walletA}, nil)
	f.syncStore.status = &types.BlockSyncStatus{ChainId: scanChain, SyncedBlock: 100}
	f.head.latest = 150
	f.head.panicOnce = true

	require.NoError(t, f.svc.safeTick())
	assert.False(t, f.svc.haveCursor)

	// Next tick reloads from the store and scans normally.
	require.NoError(t, f.svc.safeTick())
	assert.True(t, f.svc.haveCursor)
	assert.Equal(t, uint64(150), f.svc.synced)
}

func TestBackoffRamp(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(0))
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, 32*time.Second, nextBackoff(16*time.Second))
	assert.Equal(t, 60*time.Second, nextBackoff(32*time.Second))
	assert.Equal(t, 60*time.Second, nextBackoff(60*time.Second))
}
