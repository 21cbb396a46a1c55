package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tokenscopelabs/tokenscope/network/httputil"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/types"
)

const healthCheckTimeout = 2 * time.Second

type providerHealthSummary struct {
	Healthy   int                     `json:"healthy"`
	Total     int                     `json:"total"`
	Endpoints []*types.ProviderHealth `json:"endpoints"`
}

type healthResponse struct {
	Status    string                            `json:"status"`
	Database  string                            `json:"database"`
	Services  map[string]string                 `json:"services,omitempty"`
	Providers map[string]*providerHealthSummary `json:"providers"`
}

// Health serves GET /health. The endpoint always answers 200; degradation
// shows in the body so load balancers and humans read the same document.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	resp := &healthResponse{
		Status:    "ok",
		Database:  "up",
		Providers: make(map[string]*providerHealthSummary, len(s.cfg.Pools)),
	}
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()
	if err := s.cfg.DB.Ping(ctx); err != nil {
		log.WithError(err).Warn("Database unreachable during health check")
		resp.Database = "down"
		resp.Status = "degraded"
	}
	for _, pool := range s.cfg.Pools {
		name := logging.ChainName(pool.ChainId())
		summary := &providerHealthSummary{
			Healthy:   pool.NumHealthy(),
			Endpoints: pool.HealthSnapshot(),
		}
		summary.Total = len(summary.Endpoints)
		if summary.Healthy == 0 && summary.Total > 0 {
			resp.Status = "degraded"
		}
		resp.Providers[name] = summary
	}
	if s.cfg.Statuses != nil {
		resp.Services = make(map[string]string)
		for kind, svcErr := range s.cfg.Statuses.Statuses() {
			if svcErr != nil {
				resp.Services[kind.String()] = svcErr.Error()
				resp.Status = "degraded"
			} else {
				resp.Services[kind.String()] = "ok"
			}
		}
	}
	httputil.WriteJson(w, resp)
}
