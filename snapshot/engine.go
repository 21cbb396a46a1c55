package snapshot

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/discovery"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/types"
)

// Discoverer runs token discovery for one wallet on a single chain.
type Discoverer interface {
	Discover(ctx context.Context, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*discovery.Result, error)
}

// Engine dispatches builds to per-chain discovery pipelines and persists the
// transfer records a deep scan surfaces along the way. It is the build
// backend behind the snapshot cache.
type Engine struct {
	builder   *Builder
	pipelines map[types.ChainId]Discoverer
	transfers db.TransferStore
}

// NewEngine wires the builder over per-chain pipelines. The pipeline map is
// assembled once at startup and read only afterwards. transfers may be nil
// when transfer persistence is not wanted.
func NewEngine(builder *Builder, pipelines map[types.ChainId]Discoverer, transfers db.TransferStore) *Engine {
	return &Engine{builder: builder, pipelines: pipelines, transfers: transfers}
}

// BuildSnapshot discovers, prices and assembles one wallet snapshot.
func (e *Engine) BuildSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*types.WalletSnapshot, error) {
	profile, err := chains.ById(chainId)
	if err != nil {
		return nil, err
	}
	pipeline, ok := e.pipelines[chainId]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnsupportedChain, "chain %d has no discovery pipeline", chainId)
	}
	disco, err := pipeline.Discover(ctx, wallet, prev, refresh)
	if err != nil {
		return nil, err
	}
	if e.transfers != nil && len(disco.Transfers) > 0 {
		// Transfers are a convenience surface; losing a batch here only
		// delays them until the head scanner or the next deep scan.
		if err := e.transfers.SaveTransfers(ctx, disco.Transfers); err != nil {
			log.WithError(err).WithFields(logging.WalletFields(chainId, wallet)).
				Warn("Could not persist crawled transfers")
		}
	}
	return e.builder.Build(ctx, profile, wallet, disco)
}
