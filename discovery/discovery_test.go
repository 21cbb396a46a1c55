package discovery

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/multicall"
	"github.com/tokenscopelabs/tokenscope/types"
)

type fakeDirectory struct {
	mu        sync.Mutex
	verified  []types.Address
	known     map[types.Address]*types.TokenMeta
	upserts   []types.Address
	failAddrs map[types.Address]bool
}

func (f *fakeDirectory) ListVerified(_ context.Context, _ types.ChainId) ([]types.Address, error) {
	return f.verified, nil
}

func (f *fakeDirectory) UpsertDiscovered(_ context.Context, chainId types.ChainId, addr types.Address) (*types.TokenMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if meta, ok := f.known[addr]; ok {
		return meta, nil
	}
	if f.failAddrs[addr] {
		return nil, errors.Wrap(types.ErrCallFailed, "no readable metadata")
	}
	meta := &types.TokenMeta{
		ChainId:  chainId,
		Address:  addr,
		Symbol:   strings.ToUpper(string(addr[38:])),
		Decimals: 18,
	}
	if f.known == nil {
		f.known = map[types.Address]*types.TokenMeta{}
	}
	f.known[addr] = meta
	f.upserts = append(f.upserts, addr)
	return meta, nil
}

func (f *fakeDirectory) Get(_ context.Context, _ types.ChainId, addrs []types.Address) (map[types.Address]*types.TokenMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[types.Address]*types.TokenMeta{}
	for _, addr := range addrs {
		if meta, ok := f.known[addr]; ok {
			out[addr] = meta
		}
	}
	return out, nil
}

type fakeBalances struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	runs     int
}

func (f *fakeBalances) Run(_ context.Context, calls []multicall.Call) ([]multicall.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	out := make([]multicall.Result, len(calls))
	for i, c := range calls {
		balance := f.balances[c.Target]
		if balance == nil {
			balance = big.NewInt(0)
		}
		out[i] = multicall.Result{
			Success:    true,
			ReturnData: common.BigToHash(balance).Bytes(),
		}
	}
	return out, nil
}

type fakeChain struct {
	head   uint64
	native *big.Int
}

func (f *fakeChain) BlockNumber(_ context.Context) (uint64, error) { return f.head, nil }
func (f *fakeChain) Balance(_ context.Context, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.native), nil
}

type fakeHistory struct {
	mu       sync.Mutex
	records  []*types.TransferRecord
	calls    int
	lastFrom uint64
	lastTo   uint64
}

func (f *fakeHistory) WalletTransfers(_ context.Context, _ types.Address, from, to uint64) ([]*types.TransferRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastFrom, f.lastTo = from, to
	return f.records, nil
}

type fakeAccel struct {
	tokens []types.Address
	err    error
	calls  int
}

func (f *fakeAccel) TokenContracts(_ context.Context, _ types.Address, _, _ uint64) ([]types.Address, error) {
	f.calls++
	return f.tokens, f.err
}

func testProfile() *chains.Profile {
	return &chains.Profile{
		Id:             1,
		Name:           "ethereum",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		StartBlock:     100,
	}
}

var (
	wallet = types.Address("0x00000000000000000000000000000000000000aa")
	tokA   = types.Address("0x00000000000000000000000000000000000000a1")
	tokB   = types.Address("0x00000000000000000000000000000000000000b2")
	tokC   = types.Address("0x00000000000000000000000000000000000000c3")
	tokD   = types.Address("0x00000000000000000000000000000000000000d4")
	tokE   = types.Address("0x00000000000000000000000000000000000000e5")
)

func knownMeta(addrs ...types.Address) map[types.Address]*types.TokenMeta {
	out := map[types.Address]*types.TokenMeta{}
	for _, addr := range addrs {
		out[addr] = &types.TokenMeta{
			ChainId:  1,
			Address:  addr,
			Symbol:   strings.ToUpper(string(addr[38:])),
			Decimals: 18,
			Verified: true,
		}
	}
	return out
}

func record(token types.Address, block uint64) *types.TransferRecord {
	return &types.TransferRecord{
		ChainId:      1,
		Wallet:       wallet,
		TokenAddress: token,
		BlockNumber:  block,
		Direction:    types.DirectionIn,
		Amount:       "1",
	}
}

func TestPhaseOneSufficesAboveThreshold(t *testing.T) {
	dir := &fakeDirectory{
		verified: []types.Address{tokA, tokB, tokC},
		known:    knownMeta(tokA, tokB, tokC),
	}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokA.Common(): big.NewInt(10),
		tokB.Common(): big.NewInt(20),
		tokC.Common(): big.NewInt(30),
	}}
	history := &fakeHistory{}
	chain := &fakeChain{head: 9000, native: big.NewInt(5e9)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	assert.False(t, res.DeepScanned)
	assert.Equal(t, 0, history.calls)
	assert.Equal(t, uint64(9000), res.BlockNumber)
	require.Equal(t, 4, len(res.Holdings))
	assert.True(t, res.Holdings[0].Native)
	assert.Equal(t, "ETH", res.Holdings[0].Meta.Symbol)
	assert.Nil(t, res.Transfers)
}

func TestDeepScanTriggeredBelowThreshold(t *testing.T) {
	dir := &fakeDirectory{
		verified: []types.Address{tokA},
		known:    knownMeta(tokA),
	}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokA.Common(): big.NewInt(10),
		tokD.Common(): big.NewInt(40),
		tokE.Common(): big.NewInt(50),
	}}
	history := &fakeHistory{records: []*types.TransferRecord{
		record(tokD, 500),
		record(tokE, 600),
		record(tokD, 700),
	}}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	assert.True(t, res.DeepScanned)
	assert.Equal(t, 1, history.calls)
	assert.Equal(t, uint64(100), history.lastFrom)
	assert.Equal(t, uint64(9000), history.lastTo)
	// Native balance is zero, so no native entry.
	require.Equal(t, 3, len(res.Holdings))
	assert.Equal(t, []types.Address{tokD, tokE}, dir.upserts)
	require.Equal(t, 3, len(res.Transfers))
}

func TestRefreshForcesDeepScan(t *testing.T) {
	dir := &fakeDirectory{
		verified: []types.Address{tokA, tokB, tokC},
		known:    knownMeta(tokA, tokB, tokC),
	}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokA.Common(): big.NewInt(10),
		tokB.Common(): big.NewInt(20),
		tokC.Common(): big.NewInt(30),
	}}
	history := &fakeHistory{}
	chain := &fakeChain{head: 9000, native: big.NewInt(1)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	res, err := p.Discover(context.Background(), wallet, nil, true)
	require.NoError(t, err)
	assert.True(t, res.DeepScanned)
	assert.Equal(t, 1, history.calls)
}

func TestExplorerAccelerationSkipsCrawl(t *testing.T) {
	dir := &fakeDirectory{verified: []types.Address{}}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokD.Common(): big.NewInt(40),
	}}
	history := &fakeHistory{}
	accel := &fakeAccel{tokens: []types.Address{tokD}}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, accel)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, accel.calls)
	assert.Equal(t, 0, history.calls)
	require.Equal(t, 1, len(res.Holdings))
	assert.Equal(t, tokD, res.Holdings[0].Meta.Address)
	// Explorer results carry no log positions, so nothing to persist.
	assert.Nil(t, res.Transfers)
}

func TestExplorerFailureFallsBackToCrawl(t *testing.T) {
	dir := &fakeDirectory{verified: []types.Address{}}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokD.Common(): big.NewInt(40),
	}}
	history := &fakeHistory{records: []*types.TransferRecord{record(tokD, 500)}}
	accel := &fakeAccel{err: errors.New("rate limited")}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, accel)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 1, accel.calls)
	assert.Equal(t, 1, history.calls)
	require.Equal(t, 1, len(res.Holdings))
	require.Equal(t, 1, len(res.Transfers))
}

func TestPreviousSnapshotBoundsScanAndCarriesTokens(t *testing.T) {
	dir := &fakeDirectory{
		verified: []types.Address{},
		known:    knownMeta(tokD),
	}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokD.Common(): big.NewInt(40),
	}}
	// No new transfers since the last snapshot.
	history := &fakeHistory{}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	prev := &types.WalletSnapshot{
		ChainId:     1,
		BlockNumber: 5000,
		Result: []*types.TokenBalance{
			{TokenAddress: types.NativeTokenAddress, NativeToken: true},
			{TokenAddress: tokD},
		},
	}
	res, err := p.Discover(context.Background(), wallet, prev, true)
	require.NoError(t, err)
	assert.Equal(t, uint64(5001), history.lastFrom)
	// The token held before the scan window still gets its balance checked.
	require.Equal(t, 1, len(res.Holdings))
	assert.Equal(t, tokD, res.Holdings[0].Meta.Address)
	assert.Empty(t, dir.upserts)
}

func TestUnreadableCandidateSkipped(t *testing.T) {
	dir := &fakeDirectory{
		verified:  []types.Address{},
		failAddrs: map[types.Address]bool{tokE: true},
	}
	balances := &fakeBalances{balances: map[common.Address]*big.Int{
		tokD.Common(): big.NewInt(40),
		tokE.Common(): big.NewInt(50),
	}}
	history := &fakeHistory{records: []*types.TransferRecord{
		record(tokD, 500),
		record(tokE, 600),
	}}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	require.Equal(t, 1, len(res.Holdings))
	assert.Equal(t, tokD, res.Holdings[0].Meta.Address)
}

func TestEmptyWallet(t *testing.T) {
	dir := &fakeDirectory{verified: []types.Address{tokA}, known: knownMeta(tokA)}
	balances := &fakeBalances{}
	history := &fakeHistory{}
	chain := &fakeChain{head: 9000, native: big.NewInt(0)}
	p := New(testProfile(), dir, balances, chain, history, nil)

	res, err := p.Discover(context.Background(), wallet, nil, false)
	require.NoError(t, err)
	assert.True(t, res.DeepScanned)
	assert.Empty(t, res.Holdings)
	assert.Equal(t, 0, res.NativeBalance.Sign())
}
