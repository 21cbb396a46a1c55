package snapshot

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/discovery"
	"github.com/tokenscopelabs/tokenscope/pricing"
	"github.com/tokenscopelabs/tokenscope/types"
)

type failingOracle struct{}

func (failingOracle) Prices(_ context.Context, _ types.ChainId, _ []types.Address) (map[types.Address]float64, error) {
	return nil, errors.New("oracle down")
}

func testProfile() *chains.Profile {
	return &chains.Profile{
		Id:             1,
		Name:           "ethereum",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
	}
}

const (
	wallet   = types.Address("0x00000000000000000000000000000000000000aa")
	usdcAddr = types.Address("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	wethAddr = types.Address("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")
	spamAddr = types.Address("0x0000000000000000000000000000000000005bad")
)

func holding(addr types.Address, symbol string, decimals uint8, balance *big.Int, spam bool) *discovery.Holding {
	return &discovery.Holding{
		Meta: &types.TokenMeta{
			ChainId:      1,
			Address:      addr,
			Symbol:       symbol,
			Decimals:     decimals,
			PossibleSpam: spam,
		},
		Balance: balance,
	}
}

func nativeHolding(balance *big.Int) *discovery.Holding {
	h := holding(types.NativeTokenAddress, "ETH", 18, balance, false)
	h.Native = true
	return h
}

// eth converts whole tokens to an 18-decimal raw amount.
func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestBuildPricesAndOrders(t *testing.T) {
	oracle := pricing.NewStaticOracle(map[types.ChainId]map[types.Address]float64{
		1: {
			types.NativeTokenAddress: 2000,
			usdcAddr:                 1,
			wethAddr:                 2000,
			spamAddr:                 9999,
		},
	})
	disco := &discovery.Result{
		Holdings: []*discovery.Holding{
			nativeHolding(eth(2)),
			holding(usdcAddr, "USDC", 6, big.NewInt(500_000_000), false),
			holding(spamAddr, "FREE.SITE", 18, eth(1000), true),
			holding(wethAddr, "WETH", 18, eth(3), false),
		},
		NativeBalance: eth(2),
		BlockNumber:   1234,
	}
	b := NewBuilder(oracle)

	snap, err := b.Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	assert.Equal(t, types.ChainId(1), snap.ChainId)
	assert.Equal(t, "ethereum", snap.ChainName)
	assert.Equal(t, uint64(1234), snap.BlockNumber)
	assert.Equal(t, eth(2).String(), snap.Native)
	assert.False(t, snap.Syncing)
	require.Equal(t, 4, snap.Count)

	// Native first, then USD value descending. The spam token's inflated
	// price ranks it high in the list even though it holds no portfolio
	// share.
	assert.True(t, snap.Result[0].NativeToken)
	assert.Equal(t, "FREE.SITE", snap.Result[1].Symbol)
	assert.Equal(t, "WETH", snap.Result[2].Symbol)
	assert.Equal(t, "USDC", snap.Result[3].Symbol)

	assert.Equal(t, "500000000", snap.Result[3].Balance)
	assert.Equal(t, "500", snap.Result[3].BalanceFormatted)
	assert.Equal(t, 500.0, snap.Result[3].UsdValue)

	// Spam keeps its USD value on the row but holds no portfolio share.
	assert.InDelta(t, 9999*1000, snap.Result[1].UsdValue, 1)
	assert.Equal(t, 0.0, snap.Result[1].PortfolioPercentage)

	sum := 0.0
	for _, row := range snap.Result {
		if !row.PossibleSpam {
			sum += row.PortfolioPercentage
		}
	}
	assert.InDelta(t, 100, sum, 0.01)
}

func TestBuildTieBreaksBySymbol(t *testing.T) {
	oracle := pricing.NewStaticOracle(map[types.ChainId]map[types.Address]float64{
		1: {usdcAddr: 1, wethAddr: 1},
	})
	disco := &discovery.Result{
		Holdings: []*discovery.Holding{
			holding(wethAddr, "BBB", 18, eth(5), false),
			holding(usdcAddr, "AAA", 18, eth(5), false),
		},
		NativeBalance: big.NewInt(0),
	}
	snap, err := NewBuilder(oracle).Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	require.Equal(t, 2, snap.Count)
	assert.Equal(t, "AAA", snap.Result[0].Symbol)
	assert.Equal(t, "BBB", snap.Result[1].Symbol)
}

func TestBuildNativeOnlyWalletHoldsFullShare(t *testing.T) {
	oracle := pricing.NewStaticOracle(map[types.ChainId]map[types.Address]float64{
		1: {types.NativeTokenAddress: 1800},
	})
	disco := &discovery.Result{
		Holdings:      []*discovery.Holding{nativeHolding(eth(1))},
		NativeBalance: eth(1),
	}
	snap, err := NewBuilder(oracle).Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Count)
	assert.InDelta(t, 100, snap.Result[0].PortfolioPercentage, 0.01)
}

func TestBuildEmptyWallet(t *testing.T) {
	disco := &discovery.Result{NativeBalance: big.NewInt(0), BlockNumber: 77}
	snap, err := NewBuilder(pricing.NewStaticOracle(nil)).Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	assert.NotNil(t, snap.Result)
	assert.Equal(t, 0, snap.Count)
	assert.Equal(t, "0", snap.Native)
}

func TestBuildWithoutPricesZeroesShares(t *testing.T) {
	disco := &discovery.Result{
		Holdings: []*discovery.Holding{
			holding(usdcAddr, "USDC", 6, big.NewInt(1_000_000), false),
		},
		NativeBalance: big.NewInt(0),
	}
	snap, err := NewBuilder(pricing.NewStaticOracle(nil)).Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Count)
	assert.Equal(t, 0.0, snap.Result[0].UsdValue)
	assert.Equal(t, 0.0, snap.Result[0].PortfolioPercentage)
}

func TestBuildSurvivesOracleFailure(t *testing.T) {
	disco := &discovery.Result{
		Holdings: []*discovery.Holding{
			holding(usdcAddr, "USDC", 6, big.NewInt(1_000_000), false),
		},
		NativeBalance: big.NewInt(0),
	}
	snap, err := NewBuilder(failingOracle{}).Build(context.Background(), testProfile(), wallet, disco)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.Result[0].UsdValue)
}

func TestFormatUnits(t *testing.T) {
	big36 := new(big.Int).Exp(big.NewInt(10), big.NewInt(36), nil)
	tests := []struct {
		amount   *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(1), 18, "0.000000000000000001"},
		{big.NewInt(1_000_000), 6, "1"},
		{big.NewInt(1_234_567), 6, "1.234567"},
		{big.NewInt(1_500_000), 6, "1.5"},
		{big.NewInt(0), 18, "0"},
		{big.NewInt(42), 0, "42"},
		{eth(12345), 18, "12345"},
		{big36, 18, "1000000000000000000"},
		{new(big.Int).Neg(big.NewInt(1_500_000)), 6, "-1.5"},
		{nil, 18, "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUnits(tt.amount, tt.decimals), "%v / 10^%d", tt.amount, tt.decimals)
	}
}

// TestFormatUnitsRoundTrip checks the formatted string scales back to the
// exact raw integer.
func TestFormatUnitsRoundTrip(t *testing.T) {
	amounts := []*big.Int{
		big.NewInt(1),
		big.NewInt(999_999),
		big.NewInt(1_000_001),
		eth(7),
		new(big.Int).Sub(eth(1), big.NewInt(1)),
	}
	for _, amount := range amounts {
		for _, decimals := range []uint8{0, 1, 6, 18} {
			formatted := FormatUnits(amount, decimals)
			parsed := parseUnits(t, formatted, decimals)
			assert.Equal(t, 0, amount.Cmp(parsed), "%s at %d decimals -> %s", amount, decimals, formatted)
		}
	}
}

func parseUnits(t *testing.T, s string, decimals uint8) *big.Int {
	t.Helper()
	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}
	require.LessOrEqual(t, len(frac), int(decimals))
	frac += strings.Repeat("0", int(decimals)-len(frac))
	out, ok := new(big.Int).SetString(intPart+frac, 10)
	require.True(t, ok)
	return out
}
