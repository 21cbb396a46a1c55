package types

import "github.com/pkg/errors"

// Error kinds shared across the engine. Components wrap these with context via
// pkg/errors; callers classify with errors.Is and only the HTTP layer turns
// them into status codes.
var (
	// ErrInvalidInput marks a malformed address or chain id from a caller.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedChain marks a chain id with no configured profile.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrNotTracked marks an operation on a wallet absent from the tracked registry.
	ErrNotTracked = errors.New("wallet is not tracked")
	// ErrProviderUnavailable marks a call that exhausted every RPC provider.
	ErrProviderUnavailable = errors.New("no provider available")
	// ErrProviderDisagreement marks a quorum call whose providers returned
	// conflicting results.
	ErrProviderDisagreement = errors.New("providers disagree")
	// ErrLogRangeIrrecoverable marks a single-block log query that keeps
	// failing after bisection bottomed out.
	ErrLogRangeIrrecoverable = errors.New("irrecoverable log range")
	// ErrCallFailed marks a single multicall entry that reverted even when
	// executed alone.
	ErrCallFailed = errors.New("call failed")
	// ErrBuildTimeout marks a snapshot build that exceeded its hard limit.
	ErrBuildTimeout = errors.New("snapshot build timed out")
	// ErrDatabase marks a connection or query failure.
	ErrDatabase = errors.New("database error")
)
