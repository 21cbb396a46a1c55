package chainrpc

import (
	"context"
	"testing"

	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

func TestIsRangeLimitError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("query returned more than 10000 results"), true},
		{errors.New("Log response size exceeded, limit 10000"), true},
		{errors.New("eth_getLogs: block range is too wide"), true},
		{gethRPC.HTTPError{StatusCode: 413, Status: "413 Request Entity Too Large"}, true},
		{errors.Wrap(errors.New("query returned more than 10000 results"), "fetch logs"), true},
		{errors.New("connection refused"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRangeLimitError(tt.err); got != tt.want {
			t.Errorf("IsRangeLimitError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestIsRevertError(t *testing.T) {
	if !isRevertError(errors.New("execution reverted: ERC20: balance query failed")) {
		t.Error("revert message not classified")
	}
	if isRevertError(errors.New("429 Too Many Requests")) {
		t.Error("rate limit misclassified as revert")
	}
}

func TestIsProviderFailure(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{gethRPC.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, true},
		{gethRPC.HTTPError{StatusCode: 503, Status: "503 Service Unavailable"}, true},
		{gethRPC.HTTPError{StatusCode: 400, Status: "400 Bad Request"}, false},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("invalid character '<' looking for beginning of value"), true},
		{errors.New("execution reverted"), false},
		{errors.New("query returned more than 10000 results"), false},
		{errors.New("invalid argument 0: missing required field"), false},
	}
	for _, tt := range tests {
		if got := isProviderFailure(tt.err); got != tt.want {
			t.Errorf("isProviderFailure(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFailureReason(t *testing.T) {
	if r := failureReason(context.DeadlineExceeded); r != "timeout" {
		t.Errorf("reason = %s, want timeout", r)
	}
	if r := failureReason(gethRPC.HTTPError{StatusCode: 429}); r != "rate_limited" {
		t.Errorf("reason = %s, want rate_limited", r)
	}
	if r := failureReason(gethRPC.HTTPError{StatusCode: 502}); r != "server_error" {
		t.Errorf("reason = %s, want server_error", r)
	}
	if r := failureReason(errors.New("boom")); r != "other" {
		t.Errorf("reason = %s, want other", r)
	}
}
