// Package pricing resolves token addresses to USD prices. The oracle is a
// pluggable upstream; snapshots treat any address the oracle does not return
// as priced at zero.
package pricing

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "pricing")

// Oracle returns USD prices for the given token addresses. Addresses without
// a usable price are absent from the result rather than zero-valued.
type Oracle interface {
	Prices(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]float64, error)
}

// StaticOracle serves a fixed price table. With a nil table it prices
// nothing, which is the deployment mode when no upstream is configured.
type StaticOracle struct {
	table map[types.ChainId]map[types.Address]float64
}

// NewStaticOracle builds an oracle over a fixed table.
func NewStaticOracle(table map[types.ChainId]map[types.Address]float64) *StaticOracle {
	return &StaticOracle{table: table}
}

// Prices implements Oracle.
func (o *StaticOracle) Prices(_ context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]float64, error) {
	chainTable := o.table[chainId]
	out := make(map[types.Address]float64, len(addrs))
	for _, addr := range addrs {
		if price, ok := chainTable[addr]; ok {
			out[addr] = price
		}
	}
	return out, nil
}
