// Package discovery finds the tokens a wallet holds on one chain. Phase 1
// sweeps balances of every verified token in one multicall pass. When that
// finds too little, or the caller demands a full refresh, phase 2 widens the
// candidate set from the wallet's transfer history before re-checking
// balances.
package discovery

import (
	"context"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/crawler"
	"github.com/tokenscopelabs/tokenscope/multicall"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "discovery")

// DeepScanThreshold is the phase 1 holding count below which phase 2 runs.
const DeepScanThreshold = 3

// TokenDirectory is the slice of the token registry the pipeline needs.
type TokenDirectory interface {
	ListVerified(ctx context.Context, chainId types.ChainId) ([]types.Address, error)
	UpsertDiscovered(ctx context.Context, chainId types.ChainId, addr types.Address) (*types.TokenMeta, error)
	Get(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]*types.TokenMeta, error)
}

// BalanceSource runs aggregated balance reads. Satisfied by the multicall
// engine.
type BalanceSource interface {
	Run(ctx context.Context, calls []multicall.Call) ([]multicall.Result, error)
}

// ChainReader covers the direct provider pool reads the pipeline makes.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account common.Address) (*big.Int, error)
}

// HistorySource enumerates a wallet's transfers from chain logs.
type HistorySource interface {
	WalletTransfers(ctx context.Context, wallet types.Address, from, to uint64) ([]*types.TransferRecord, error)
}

// Accelerator shortcuts phase 2 through an indexed explorer API. Optional;
// failures fall back to the log crawl.
type Accelerator interface {
	TokenContracts(ctx context.Context, wallet types.Address, from, to uint64) ([]types.Address, error)
}

// Holding is one discovered non-zero balance.
type Holding struct {
	Meta    *types.TokenMeta
	Balance *big.Int
	Native  bool
}

// Result is the outcome of one discovery run. Transfers holds the records
// crawled during phase 2, for persistence by the caller; it stays nil when
// phase 2 was skipped or served by the explorer.
type Result struct {
	Holdings      []*Holding
	NativeBalance *big.Int
	BlockNumber   uint64
	DeepScanned   bool
	Transfers     []*types.TransferRecord
}

// Pipeline discovers holdings for one chain.
type Pipeline struct {
	profile  *chains.Profile
	dir      TokenDirectory
	balances BalanceSource
	chain    ChainReader
	history  HistorySource
	accel    Accelerator
}

// New builds a pipeline. accel may be nil.
func New(profile *chains.Profile, dir TokenDirectory, balances BalanceSource, chain ChainReader, history HistorySource, accel Accelerator) *Pipeline {
	return &Pipeline{
		profile:  profile,
		dir:      dir,
		balances: balances,
		chain:    chain,
		history:  history,
		accel:    accel,
	}
}

// Discover runs the pipeline for one wallet. prev is the wallet's previous
// snapshot when one exists; it bounds the phase 2 scan range and carries
// forward tokens whose transfers predate it.
func (p *Pipeline) Discover(ctx context.Context, wallet types.Address, prev *types.WalletSnapshot, refresh bool) (*Result, error) {
	chainId := p.profile.Id
	blockNumber, err := p.chain.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read chain head")
	}
	native, err := p.chain.Balance(ctx, wallet.Common())
	if err != nil {
		return nil, errors.Wrap(err, "read native balance")
	}

	verified, err := p.dir.ListVerified(ctx, chainId)
	if err != nil {
		return nil, err
	}
	held := map[types.Address]*big.Int{}
	checked := make(map[types.Address]bool, len(verified))
	if err := p.sweepBalances(ctx, wallet, verified, held, checked); err != nil {
		return nil, err
	}
	phase1Count := len(held)

	deep := refresh || phase1Count < DeepScanThreshold
	var transfers []*types.TransferRecord
	if deep {
		deepScansTotal.WithLabelValues(p.profile.Name).Inc()
		candidates, records, err := p.collectCandidates(ctx, wallet, prev, blockNumber)
		if err != nil {
			return nil, err
		}
		transfers = records
		fresh := make([]types.Address, 0, len(candidates))
		for _, addr := range candidates {
			if checked[addr] || addr.IsNative() {
				continue
			}
			if _, err := p.dir.UpsertDiscovered(ctx, chainId, addr); err != nil {
				if errors.Is(err, types.ErrCallFailed) {
					log.WithFields(logrus.Fields{
						"chain":   p.profile.Name,
						"address": addr,
					}).Debug("Skipping unreadable token contract")
					continue
				}
				return nil, err
			}
			fresh = append(fresh, addr)
		}
		tokensDiscoveredTotal.WithLabelValues(p.profile.Name).Add(float64(len(fresh)))
		if err := p.sweepBalances(ctx, wallet, fresh, held, checked); err != nil {
			return nil, err
		}
	}

	holdings, err := p.assembleHoldings(ctx, held, native)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"chain":    p.profile.Name,
		"wallet":   wallet,
		"holdings": len(holdings),
		"deep":     deep,
	}).Debug("Discovery finished")
	return &Result{
		Holdings:      holdings,
		NativeBalance: native,
		BlockNumber:   blockNumber,
		DeepScanned:   deep,
		Transfers:     transfers,
	}, nil
}

// sweepBalances checks balanceOf(wallet) for every token, recording non-zero
// results in held and every attempt in checked. Tokens whose call fails are
// left unknown and excluded.
func (p *Pipeline) sweepBalances(ctx context.Context, wallet types.Address, tokens []types.Address, held map[types.Address]*big.Int, checked map[types.Address]bool) error {
	if len(tokens) == 0 {
		return nil
	}
	calls, err := multicall.BalanceOfCalls(wallet.Common(), tokens)
	if err != nil {
		return err
	}
	results, err := p.balances.Run(ctx, calls)
	if err != nil {
		return err
	}
	for i, res := range results {
		checked[tokens[i]] = true
		balance, err := multicall.DecodeBalance(res)
		if err != nil {
			continue
		}
		if balance.Sign() > 0 {
			held[tokens[i]] = balance
		}
	}
	return nil
}

// collectCandidates widens the candidate set from transfer history, carrying
// over tokens held in the previous snapshot whose activity predates the scan
// window.
func (p *Pipeline) collectCandidates(ctx context.Context, wallet types.Address, prev *types.WalletSnapshot, head uint64) ([]types.Address, []*types.TransferRecord, error) {
	from := p.profile.StartBlock
	if prev != nil && prev.BlockNumber+1 > from {
		from = prev.BlockNumber + 1
	}
	seen := map[types.Address]bool{}
	var candidates []types.Address
	add := func(addr types.Address) {
		if !seen[addr] {
			seen[addr] = true
			candidates = append(candidates, addr)
		}
	}
	if prev != nil {
		for _, tb := range prev.Result {
			if !tb.NativeToken {
				add(tb.TokenAddress)
			}
		}
	}
	if from > head {
		return candidates, nil, nil
	}
	if p.accel != nil {
		contracts, err := p.accel.TokenContracts(ctx, wallet, from, head)
		if err == nil {
			for _, addr := range contracts {
				add(addr)
			}
			return candidates, nil, nil
		}
		log.WithError(err).WithField("chain", p.profile.Name).Warn("Explorer lookup failed, falling back to log crawl")
	}
	records, err := p.history.WalletTransfers(ctx, wallet, from, head)
	if err != nil {
		return nil, nil, err
	}
	for _, addr := range crawler.TokenSet(records) {
		add(addr)
	}
	return candidates, records, nil
}

// assembleHoldings joins balances with metadata, native entry first.
func (p *Pipeline) assembleHoldings(ctx context.Context, held map[types.Address]*big.Int, native *big.Int) ([]*Holding, error) {
	addrs := make([]types.Address, 0, len(held))
	for addr := range held {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	metas, err := p.dir.Get(ctx, p.profile.Id, addrs)
	if err != nil {
		return nil, err
	}
	holdings := make([]*Holding, 0, len(addrs)+1)
	if native != nil && native.Sign() > 0 {
		holdings = append(holdings, &Holding{
			Meta: &types.TokenMeta{
				ChainId:  p.profile.Id,
				Address:  types.NativeTokenAddress,
				Symbol:   p.profile.NativeSymbol,
				Name:     p.profile.Name,
				Decimals: p.profile.NativeDecimals,
				Verified: true,
			},
			Balance: native,
			Native:  true,
		})
	}
	for _, addr := range addrs {
		meta, ok := metas[addr]
		if !ok {
			// Metadata vanished between sweep and join; leave the token out
			// rather than serve a row with no symbol.
			log.WithField("address", addr).Debug("No metadata for held token")
			continue
		}
		holdings = append(holdings, &Holding{Meta: meta, Balance: held[addr]})
	}
	return holdings, nil
}
