package chainrpc

import (
	"context"
	"strings"

	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Substrings providers use for log queries that matched too much data. The
// exact wording differs per provider family.
var rangeLimitMarkers = []string{
	"query returned more than",
	"log response size exceeded",
	"block range is too wide",
	"exceed maximum block range",
	"query timeout exceeded",
	"request entity too large",
}

// IsRangeLimitError reports whether the provider rejected a log query for
// covering too much data. These responses are protocol answers, not provider
// failures; the crawler reacts by bisecting the range.
func IsRangeLimitError(err error) bool {
	if err == nil {
		return false
	}
	var httpErr gethRPC.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 413 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rangeLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isRevertError reports whether the error is an EVM execution revert. Reverts
// are legitimate call outcomes the multicall engine handles by bisecting.
func isRevertError(err error) bool {
	if err == nil {
		return false
	}
	if rpcErr, ok := err.(gethRPC.Error); ok && rpcErr.ErrorCode() == 3 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert")
}

// passthroughError covers responses that must reach the caller unchanged
// instead of triggering failover: the provider did its job.
func passthroughError(err error) bool {
	return IsRangeLimitError(err) || isRevertError(err)
}

// isProviderFailure classifies errors that count against an endpoint's
// health: timeouts, throttling, server errors and broken transports.
func isProviderFailure(err error) bool {
	if err == nil {
		return false
	}
	if passthroughError(err) {
		return false
	}
	var httpErr gethRPC.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"too many requests",
		"rate limit",
		"connection refused",
		"connection reset",
		"i/o timeout",
		"timeout awaiting",
		"eof",
		"no such host",
		"bad gateway",
		"service unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	// Malformed JSON-RPC payloads surface as decode errors.
	return strings.Contains(msg, "invalid character") || strings.Contains(msg, "unexpected end of json")
}

// failureReason buckets an error for the failure metric.
func failureReason(err error) string {
	var httpErr gethRPC.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &httpErr) && httpErr.StatusCode == 429:
		return "rate_limited"
	case errors.As(err, &httpErr) && httpErr.StatusCode >= 500:
		return "server_error"
	default:
		return "other"
	}
}
