// Package multicall batches ERC-20 reads through the Multicall3 contract so a
// wallet sweep costs a handful of eth_call round trips instead of one per
// token.
package multicall

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "multicall")

// DefaultBatchSize caps how many sub-calls ride in one tryAggregate request.
const DefaultBatchSize = 100

// Call is one target contract invocation inside an aggregate batch.
type Call struct {
	Target   common.Address
	CallData []byte
}

// Result carries the outcome of one Call. When the call could not be
// completed even in isolation, Err wraps types.ErrCallFailed and Success is
// false.
type Result struct {
	Success    bool
	ReturnData []byte
	Err        error
}

// ContractCaller is the slice of the provider pool the engine needs.
type ContractCaller interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Engine aggregates contract reads for a single chain.
type Engine struct {
	caller    ContractCaller
	contract  common.Address
	chainName string
	batchSize int
}

// New builds an engine that routes batches to the given Multicall3 deployment.
func New(caller ContractCaller, contract common.Address, opts ...Option) (*Engine, error) {
	e := &Engine{
		caller:    caller,
		contract:  contract,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Run executes every call and returns one Result per input, in input order.
// Individual call failures are reported in-place and never abort the batch;
// only provider-level failures and context cancellation surface as an error.
func (e *Engine) Run(ctx context.Context, calls []Call) ([]Result, error) {
	results := make([]Result, len(calls))
	for lo := 0; lo < len(calls); lo += e.batchSize {
		hi := lo + e.batchSize
		if hi > len(calls) {
			hi = len(calls)
		}
		if err := e.runRange(ctx, calls, results, lo, hi); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// runRange executes calls[lo:hi] as one tryAggregate request, splitting the
// range in half whenever the aggregate call itself reverts. A revert that
// survives down to a single call marks that call failed rather than erroring.
func (e *Engine) runRange(ctx context.Context, calls []Call, results []Result, lo, hi int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	data, err := packTryAggregate(calls[lo:hi])
	if err != nil {
		return errors.Wrap(err, "pack aggregate batch")
	}
	batchesTotal.WithLabelValues(e.chainName).Inc()
	out, callErr := e.caller.CallContract(ctx, e.contract, data)
	if callErr != nil {
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}
		if errors.Is(callErr, types.ErrProviderUnavailable) {
			return callErr
		}
		if hi-lo == 1 {
			failedCallsTotal.WithLabelValues(e.chainName).Inc()
			results[lo] = Result{Err: errors.Wrapf(types.ErrCallFailed, "call to %#x reverted in isolation", calls[lo].Target)}
			return nil
		}
		batchSplitsTotal.WithLabelValues(e.chainName).Inc()
		log.WithFields(logrus.Fields{
			"chain": e.chainName,
			"size":  hi - lo,
		}).WithError(callErr).Debug("Aggregate batch reverted, splitting")
		mid := lo + (hi-lo)/2
		if err := e.runRange(ctx, calls, results, lo, mid); err != nil {
			return err
		}
		return e.runRange(ctx, calls, results, mid, hi)
	}
	decoded, err := unpackTryAggregate(out)
	if err != nil {
		return err
	}
	if len(decoded) != hi-lo {
		return errors.Errorf("aggregate returned %d results for %d calls", len(decoded), hi-lo)
	}
	for i, r := range decoded {
		if !r.Success {
			failedCallsTotal.WithLabelValues(e.chainName).Inc()
			results[lo+i] = Result{Err: errors.Wrapf(types.ErrCallFailed, "call to %#x rejected by target", calls[lo+i].Target)}
			continue
		}
		results[lo+i] = Result{Success: true, ReturnData: r.ReturnData}
	}
	return nil
}
