package api

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/network/httputil"
	"github.com/tokenscopelabs/tokenscope/types"
)

// statusOf maps an error kind to its HTTP status. Unrecognized errors are
// internal by definition.
func statusOf(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnsupportedChain):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, types.ErrBuildTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrProviderUnavailable), errors.Is(err, types.ErrProviderDisagreement):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrDatabase):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	}
	httputil.WriteError(w, &httputil.DefaultErrorJson{
		Message: err.Error(),
		Code:    code,
	})
}
