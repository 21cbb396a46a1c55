// Package api serves the public JSON interface: wallet snapshots, token
// search, the tracked-wallet registry and the health surface. Handlers stay
// thin; every domain decision lives in the services this package fronts.
package api

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "api")

const (
	// DefaultRequestTimeout bounds one HTTP request. Snapshot builds run on
	// detached contexts in the cache layer, so an expired request abandons
	// its build rather than cancelling it.
	DefaultRequestTimeout = 30 * time.Second
	// staleLookupTimeout bounds the cache read that backs the degraded
	// serve-stale path once the request deadline is already spent.
	staleLookupTimeout = 2 * time.Second
	shutdownTimeout    = 2 * time.Second
)

// SnapshotSource serves portfolio snapshots. Satisfied by the cache service.
type SnapshotSource interface {
	Get(ctx context.Context, chainId types.ChainId, wallet types.Address, refresh bool) (*types.WalletSnapshot, error)
	Cached(ctx context.Context, chainId types.ChainId, wallet types.Address) (*types.WalletSnapshot, error)
}

// TrackedRegistry manages the tracked-wallet set. Satisfied by the tracked
// service.
type TrackedRegistry interface {
	Add(ctx context.Context, wallet types.Address, chainIds []types.ChainId) (*types.TrackedWallet, error)
	Remove(ctx context.Context, wallet types.Address) error
	List(ctx context.Context) ([]*types.TrackedWallet, error)
}

// TokenSource answers token metadata searches. Satisfied by the token
// registry.
type TokenSource interface {
	Search(ctx context.Context, q db.TokenQuery) (*types.TokenPage, error)
}

// TransferSource pages through recorded transfers.
type TransferSource interface {
	TransfersByWallet(ctx context.Context, chainId types.ChainId, wallet types.Address, page, limit int) (*types.TransferPage, error)
}

// Pinger checks database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderPool exposes one chain's provider health. Satisfied by the chainrpc
// pool.
type ProviderPool interface {
	ChainId() types.ChainId
	NumHealthy() int
	HealthSnapshot() []*types.ProviderHealth
}

// ServiceStatuses reports per-service health. Satisfied by the runtime
// service registry.
type ServiceStatuses interface {
	Statuses() map[reflect.Type]error
}

// Config holds the API server dependencies.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Snapshots      SnapshotSource
	Tracked        TrackedRegistry
	Tokens         TokenSource
	Transfers      TransferSource
	DB             Pinger
	Pools          []ProviderPool
	Statuses       ServiceStatuses
	RequestTimeout time.Duration
}

// Service is the HTTP API server.
type Service struct {
	ctx          context.Context
	cancel       context.CancelFunc
	cfg          *Config
	server       *http.Server
	startFailure error
}

// NewService wires the router and middleware. Serving starts with Start.
func NewService(ctx context.Context, cfg *Config) (*Service, error) {
	if cfg.Snapshots == nil || cfg.Tracked == nil || cfg.Tokens == nil || cfg.Transfers == nil {
		return nil, errors.New("api service missing a domain dependency")
	}
	if cfg.DB == nil {
		return nil, errors.New("api service requires a database handle for health checks")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Service{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	router := mux.NewRouter()
	router.Use(s.requestIDMiddleware, s.accessLogMiddleware, s.deadlineMiddleware)
	s.registerRoutes(router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodPost, http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowCredentials: true,
		MaxAge:           600,
		AllowedHeaders:   []string{"*"},
	})
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: time.Second,
	}
	return s, nil
}

func (s *Service) registerRoutes(router *mux.Router) {
	router.HandleFunc("/api/wallet/{chain}/{address}/transactions", s.WalletTransactions).Methods(http.MethodGet)
	router.HandleFunc("/api/wallet/{chain}/{address}", s.ChainSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/wallet/{address}", s.AggregateSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/api/tokens/{chainId}", s.TokensByChain).Methods(http.MethodGet)
	router.HandleFunc("/api/tokens", s.SearchTokens).Methods(http.MethodGet)
	router.HandleFunc("/api/wallets/add-wallet", s.AddWallet).Methods(http.MethodPost)
	router.HandleFunc("/api/wallets/get-wallet", s.ListWallets).Methods(http.MethodGet)
	router.HandleFunc("/api/wallets/remove-wallet/{address}", s.RemoveWallet).Methods(http.MethodDelete)
	router.HandleFunc("/health", s.Health).Methods(http.MethodGet)
}

// Start begins serving requests.
func (s *Service) Start() {
	log.WithField("address", s.server.Addr).Info("Starting HTTP API server")
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("Failed to start HTTP API server")
			s.startFailure = err
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Service) Stop() error {
	if s.server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(s.ctx, shutdownTimeout)
		defer shutdownCancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("Existing connections terminated")
			} else {
				log.WithError(err).Error("Failed to gracefully shut down server")
			}
		}
	}
	s.cancel()
	return nil
}

// Status returns an error if the server failed to bind.
func (s *Service) Status() error {
	return s.startFailure
}
