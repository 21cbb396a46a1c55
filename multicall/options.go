package multicall

import "github.com/pkg/errors"

// Option applies a setting to the engine during construction.
type Option func(e *Engine) error

// WithBatchSize overrides how many calls are packed per aggregate request.
func WithBatchSize(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return errors.Errorf("batch size must be positive, got %d", n)
		}
		e.batchSize = n
		return nil
	}
}

// WithChainName labels the engine's metrics and log lines.
func WithChainName(name string) Option {
	return func(e *Engine) error {
		e.chainName = name
		return nil
	}
}
