// Package snapshot turns discovered holdings into the canonical portfolio
// document served by the API: priced, formatted, and ordered.
package snapshot

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/discovery"
	"github.com/tokenscopelabs/tokenscope/pricing"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "snapshot")

// Builder assembles wallet snapshots from discovery output.
type Builder struct {
	oracle pricing.Oracle
}

// NewBuilder wires the price oracle in.
func NewBuilder(oracle pricing.Oracle) *Builder {
	return &Builder{oracle: oracle}
}

// Build prices and orders the holdings into a snapshot. An oracle failure
// degrades to zero prices instead of failing the build.
func (b *Builder) Build(ctx context.Context, profile *chains.Profile, wallet types.Address, disco *discovery.Result) (*types.WalletSnapshot, error) {
	addrs := make([]types.Address, 0, len(disco.Holdings))
	for _, h := range disco.Holdings {
		addrs = append(addrs, h.Meta.Address)
	}
	prices, err := b.oracle.Prices(ctx, profile.Id, addrs)
	if err != nil {
		log.WithError(err).WithField("chain", profile.Name).Warn("Price lookup failed, valuing snapshot at zero")
		prices = nil
	}

	var nativeRow *types.TokenBalance
	rows := make([]*types.TokenBalance, 0, len(disco.Holdings))
	denominator := 0.0
	for _, h := range disco.Holdings {
		price := prices[h.Meta.Address]
		row := &types.TokenBalance{
			TokenAddress:     h.Meta.Address,
			Symbol:           h.Meta.Symbol,
			Name:             h.Meta.Name,
			Decimals:         h.Meta.Decimals,
			Logo:             h.Meta.Logo,
			Balance:          h.Balance.String(),
			BalanceFormatted: FormatUnits(h.Balance, h.Meta.Decimals),
			NativeToken:      h.Native,
			PossibleSpam:     h.Meta.PossibleSpam,
			UsdPrice:         price,
			UsdValue:         scaledValue(h.Balance, h.Meta.Decimals) * price,
		}
		if !row.PossibleSpam {
			denominator += row.UsdValue
		}
		if h.Native {
			nativeRow = row
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UsdValue != rows[j].UsdValue {
			return rows[i].UsdValue > rows[j].UsdValue
		}
		return rows[i].Symbol < rows[j].Symbol
	})
	result := make([]*types.TokenBalance, 0, len(rows)+1)
	if nativeRow != nil {
		result = append(result, nativeRow)
	}
	result = append(result, rows...)

	// Spam rows always hold 0%; the shares of legitimate holdings sum to
	// 100 whenever any of them carries value.
	if denominator > 0 {
		for _, row := range result {
			if !row.PossibleSpam {
				row.PortfolioPercentage = row.UsdValue / denominator * 100
			}
		}
	}

	native := "0"
	if disco.NativeBalance != nil {
		native = disco.NativeBalance.String()
	}
	return &types.WalletSnapshot{
		ChainId:     profile.Id,
		ChainName:   profile.Name,
		Wallet:      wallet,
		Native:      native,
		Result:      result,
		BlockNumber: disco.BlockNumber,
		Syncing:     false,
		Count:       len(result),
	}, nil
}
