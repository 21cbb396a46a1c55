package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/tokenscopelabs/tokenscope/types"
)

// PriceTTL is how long a fetched price stays usable. Older prices count as
// missing and are refetched.
const PriceTTL = 5 * time.Minute

// CachedOracle memoizes per-address prices in front of a slower upstream.
type CachedOracle struct {
	inner  Oracle
	prices *cache.Cache
}

// NewCachedOracle wraps inner with a per-address price cache.
func NewCachedOracle(inner Oracle) *CachedOracle {
	return &CachedOracle{
		inner: inner,
		// Purge at twice the TTL; lookups never return expired entries.
		prices: cache.New(PriceTTL, 2*PriceTTL),
	}
}

func priceKey(chainId types.ChainId, addr types.Address) string {
	return fmt.Sprintf("%d/%s", chainId, addr)
}

// Prices implements Oracle, fetching only addresses whose cached price has
// expired. An upstream failure leaves previously cached prices usable.
func (o *CachedOracle) Prices(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]float64, error) {
	out := make(map[types.Address]float64, len(addrs))
	var misses []types.Address
	for _, addr := range addrs {
		if v, ok := o.prices.Get(priceKey(chainId, addr)); ok {
			out[addr] = v.(float64)
			continue
		}
		misses = append(misses, addr)
	}
	if len(misses) == 0 {
		return out, nil
	}
	fetched, err := o.inner.Prices(ctx, chainId, misses)
	if err != nil {
		if len(out) > 0 {
			log.WithError(err).Warn("Price fetch failed, serving cached subset")
			return out, nil
		}
		return nil, err
	}
	for addr, price := range fetched {
		out[addr] = price
		o.prices.Set(priceKey(chainId, addr), price, cache.DefaultExpiration)
	}
	return out, nil
}
