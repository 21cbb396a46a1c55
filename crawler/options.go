package crawler

import (
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// Option applies a setting to the crawler during construction.
type Option func(c *Crawler) error

// WithChain stamps records and metrics with the chain identity.
func WithChain(id types.ChainId, name string) Option {
	return func(c *Crawler) error {
		c.chainId = id
		c.chainName = name
		return nil
	}
}

// WithChunkSize sets how many blocks each initial span covers.
func WithChunkSize(blocks uint64) Option {
	return func(c *Crawler) error {
		if blocks < 1 {
			return errors.Errorf("chunk size must be positive, got %d", blocks)
		}
		c.chunkSize = blocks
		return nil
	}
}

// WithSoftCap sets the result count at which a span is split even though the
// provider accepted it.
func WithSoftCap(n int) Option {
	return func(c *Crawler) error {
		if n < 1 {
			return errors.Errorf("soft cap must be positive, got %d", n)
		}
		c.softCap = n
		return nil
	}
}
