// Package tokens maintains the (chain, address) to metadata mapping backed by
// the token_details table, with an in-process hot cache in front and on-chain
// metadata fetch for tokens seen for the first time.
package tokens

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgraph-io/ristretto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/multicall"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "tokens")

// Search pagination bounds. Zero values fall back to the defaults; anything
// outside the bounds is rejected.
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// maxSaneDecimals rejects contracts reporting absurd precision. Formatting
// such balances would produce garbage, so the token is treated as unreadable.
const maxSaneDecimals = 38

// MetadataSource runs aggregated contract reads for one chain. Satisfied by
// the multicall engine.
type MetadataSource interface {
	Run(ctx context.Context, calls []multicall.Call) ([]multicall.Result, error)
}

// Registry answers metadata lookups and discovers unknown tokens on chain.
type Registry struct {
	store   db.TokenStore
	sources map[types.ChainId]MetadataSource
	hot     *ristretto.Cache
}

// New builds a registry. sources maps each supported chain to its metadata
// fetcher; chains without one can still serve lookups from the database.
func New(store db.TokenStore, sources map[types.ChainId]MetadataSource) (*Registry, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 20, // number of keys to track frequency of.
		MaxCost:     1 << 16, // one unit of cost per cached token.
		BufferItems: 64,      // number of keys per Get buffer.
	})
	if err != nil {
		return nil, errors.Wrap(err, "create token cache")
	}
	return &Registry{
		store:   store,
		sources: sources,
		hot:     hot,
	}, nil
}

func cacheKey(chainId types.ChainId, addr types.Address) string {
	return fmt.Sprintf("%d/%s", chainId, addr)
}

// Get returns the known metadata among addrs. Addresses the registry has
// never seen are simply absent from the result.
func (r *Registry) Get(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]*types.TokenMeta, error) {
	out := make(map[types.Address]*types.TokenMeta, len(addrs))
	var misses []types.Address
	for _, addr := range addrs {
		if cached, ok := r.hot.Get(cacheKey(chainId, addr)); ok {
			out[addr] = cached.(*types.TokenMeta)
			continue
		}
		misses = append(misses, addr)
	}
	if len(misses) == 0 {
		return out, nil
	}
	stored, err := r.store.TokensByAddress(ctx, chainId, misses)
	if err != nil {
		return nil, err
	}
	for addr, meta := range stored {
		out[addr] = meta
		r.hot.Set(cacheKey(chainId, addr), meta, 1)
	}
	return out, nil
}

// Search pages through metadata matching the query.
func (r *Registry) Search(ctx context.Context, q db.TokenQuery) (*types.TokenPage, error) {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Page < 1 {
		return nil, errors.Wrapf(types.ErrInvalidInput, "page must be positive, got %d", q.Page)
	}
	if q.Limit < 1 || q.Limit > MaxPageLimit {
		return nil, errors.Wrapf(types.ErrInvalidInput, "limit must be in [1, %d], got %d", MaxPageLimit, q.Limit)
	}
	return r.store.SearchTokens(ctx, q)
}

// ListVerified returns the addresses swept during discovery phase 1.
func (r *Registry) ListVerified(ctx context.Context, chainId types.ChainId) ([]types.Address, error) {
	return r.store.VerifiedTokenAddresses(ctx, chainId)
}

// UpsertDiscovered returns metadata for addr, reading symbol, name and
// decimals from the contract and persisting them when the token is unknown.
func (r *Registry) UpsertDiscovered(ctx context.Context, chainId types.ChainId, addr types.Address) (*types.TokenMeta, error) {
	known, err := r.Get(ctx, chainId, []types.Address{addr})
	if err != nil {
		return nil, err
	}
	if meta, ok := known[addr]; ok {
		return meta, nil
	}
	source, ok := r.sources[chainId]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnsupportedChain, "no metadata source for chain %d", chainId)
	}
	meta, err := r.fetchMetadata(ctx, source, chainId, addr)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertToken(ctx, meta); err != nil {
		return nil, err
	}
	r.hot.Set(cacheKey(chainId, addr), meta, 1)
	log.WithFields(logrus.Fields{
		"chain":   chainId,
		"address": addr,
		"symbol":  meta.Symbol,
		"spam":    meta.PossibleSpam,
	}).Debug("Discovered new token")
	return meta, nil
}

// fetchMetadata reads the ERC-20 metadata surface in one aggregate call.
// A token whose symbol and name are both unreadable is rejected; missing
// decimals default to 18.
func (r *Registry) fetchMetadata(ctx context.Context, source MetadataSource, chainId types.ChainId, addr types.Address) (*types.TokenMeta, error) {
	calls, err := multicall.MetadataCalls(addr)
	if err != nil {
		return nil, err
	}
	results, err := source.Run(ctx, calls)
	if err != nil {
		return nil, err
	}
	symbol, symErr := multicall.DecodeTokenString("symbol", results[0])
	name, nameErr := multicall.DecodeTokenString("name", results[1])
	if (symErr != nil || symbol == "") && (nameErr != nil || name == "") {
		return nil, errors.Wrapf(types.ErrCallFailed, "token %s exposes no readable metadata", addr)
	}
	if symbol == "" || symErr != nil {
		symbol = strings.ToUpper(firstWord(name))
	}
	decimals, decErr := multicall.DecodeDecimals(results[2])
	if decErr != nil {
		decimals = 18
	}
	if decimals > maxSaneDecimals {
		return nil, errors.Wrapf(types.ErrCallFailed, "token %s reports %d decimals", addr, decimals)
	}
	return &types.TokenMeta{
		ChainId:      chainId,
		Address:      addr,
		Symbol:       symbol,
		Name:         name,
		Decimals:     decimals,
		Verified:     false,
		PossibleSpam: looksLikeSpam(symbol, name),
	}, nil
}

// Markers common in airdropped scam tokens that ask holders to visit a site.
var spamMarkers = []string{
	"http://",
	"https://",
	"www.",
	".com",
	".io",
	".net",
	".org",
	".xyz",
	"claim",
	"airdrop",
	"visit",
	"reward",
}

func looksLikeSpam(symbol, name string) bool {
	if len(symbol) > 12 {
		return true
	}
	combined := strings.ToLower(symbol + " " + name)
	for _, marker := range spamMarkers {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	if len(fields[0]) > 11 {
		return fields[0][:11]
	}
	return fields[0]
}
