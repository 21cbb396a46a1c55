// Package node defines the tokenscope node process: it assembles the provider
// pools, the snapshot pipeline, the head scanners and the HTTP surfaces from
// configuration and runs them under one service registry.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/api"
	"github.com/tokenscopelabs/tokenscope/cache"
	"github.com/tokenscopelabs/tokenscope/chainrpc"
	"github.com/tokenscopelabs/tokenscope/cmd"
	"github.com/tokenscopelabs/tokenscope/cmd/tokenscope/flags"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/crawler"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/db/postgres"
	"github.com/tokenscopelabs/tokenscope/discovery"
	"github.com/tokenscopelabs/tokenscope/explorer"
	"github.com/tokenscopelabs/tokenscope/headscan"
	"github.com/tokenscopelabs/tokenscope/monitoring/cleanup"
	"github.com/tokenscopelabs/tokenscope/monitoring/prometheus"
	"github.com/tokenscopelabs/tokenscope/multicall"
	"github.com/tokenscopelabs/tokenscope/pricing"
	"github.com/tokenscopelabs/tokenscope/runtime"
	"github.com/tokenscopelabs/tokenscope/runtime/logging"
	"github.com/tokenscopelabs/tokenscope/runtime/prereqs"
	"github.com/tokenscopelabs/tokenscope/runtime/version"
	"github.com/tokenscopelabs/tokenscope/snapshot"
	"github.com/tokenscopelabs/tokenscope/tokens"
	"github.com/tokenscopelabs/tokenscope/tracked"
	"github.com/tokenscopelabs/tokenscope/types"
	"github.com/urfave/cli/v2"
)

var log = logrus.WithField("prefix", "node")

// Node handles the services running a tokenscope process. It handles the
// lifecycle of the entire system and registers services to a service registry.
type Node struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	lock     sync.RWMutex
	services *runtime.ServiceRegistry
	stop     chan struct{} // Channel to wait for termination notifications.
	db       db.Database
	pools    map[types.ChainId]*chainrpc.Pool
	crawlers map[types.ChainId]*crawler.Crawler
	tokens   *tokens.Registry
	engine   *snapshot.Engine
	cache    *cache.Service
	tracked  *tracked.Service
}

// New creates a node instance, sets up configuration options, and registers
// every required service.
func New(cliCtx *cli.Context) (*Node, error) {
	prereqs.WarnIfPlatformNotSupported(cliCtx.Context)

	if err := configureChains(cliCtx); err != nil {
		return nil, err
	}

	registry := runtime.NewServiceRegistry()

	ctx, cancel := context.WithCancel(cliCtx.Context)
	n := &Node{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		services: registry,
		stop:     make(chan struct{}),
		pools:    make(map[types.ChainId]*chainrpc.Pool),
		crawlers: make(map[types.ChainId]*crawler.Crawler),
	}

	if err := n.startDB(cliCtx); err != nil {
		return nil, err
	}

	if err := n.registerPools(cliCtx); err != nil {
		return nil, err
	}

	if err := n.registerSnapshotServices(cliCtx); err != nil {
		return nil, err
	}

	if err := n.registerHeadScanners(); err != nil {
		return nil, err
	}

	if err := n.registerAPIService(cliCtx); err != nil {
		return nil, err
	}

	if !cliCtx.Bool(cmd.DisableMonitoringFlag.Name) {
		if err := n.registerPrometheusService(cliCtx); err != nil {
			return nil, err
		}
	}

	return n, nil
}

// Start the node and kick off every registered service.
func (n *Node) Start() {
	n.lock.Lock()

	log.WithFields(logrus.Fields{
		"version": version.GetVersion(),
	}).Info("Starting tokenscope node")

	n.services.StartAll()

	stop := n.stop
	n.lock.Unlock()

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the tokenscope node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the entire system.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping tokenscope node")
	n.services.StopAll()
	if err := n.db.Close(); err != nil {
		log.WithError(err).Error("Failed to close database")
	}
	n.cancel()
	close(n.stop)
}

func (n *Node) startDB(cliCtx *cli.Context) error {
	store, err := postgres.New(n.ctx, postgres.Config{
		Host:     cliCtx.String(flags.PgHostFlag.Name),
		Port:     cliCtx.Int(flags.PgPortFlag.Name),
		User:     cliCtx.String(flags.PgUserFlag.Name),
		Password: cliCtx.String(flags.PgPasswordFlag.Name),
		DBName:   cliCtx.String(flags.PgDatabaseFlag.Name),
		MaxConns: cliCtx.Int(flags.PgMaxConnectionsFlag.Name),
	})
	if err != nil {
		return errors.Wrap(err, "could not connect to postgres")
	}
	n.db = store
	return nil
}

// registerPools builds one provider pool per configured chain. The registry
// keys services by type, so the per-chain pools register through a single
// poolSet entry.
func (n *Node) registerPools(cliCtx *cli.Context) error {
	timeout := time.Duration(cliCtx.Int(flags.RpcTimeoutFlag.Name)) * time.Millisecond
	jwtSecret, err := parseJwtSecret(cliCtx)
	if err != nil {
		return err
	}
	ordered := make([]*chainrpc.Pool, 0)
	for _, profile := range chains.All() {
		opts := []chainrpc.Option{
			chainrpc.WithTimeout(timeout),
			chainrpc.WithHealthStore(n.db),
		}
		if len(jwtSecret) > 0 {
			opts = append(opts, chainrpc.WithJwtSecret(jwtSecret))
		}
		pool, err := chainrpc.NewPool(n.ctx, profile, opts...)
		if err != nil {
			return errors.Wrapf(err, "could not build provider pool for %s", profile.Name)
		}
		n.pools[profile.Id] = pool
		ordered = append(ordered, pool)
	}
	return n.services.RegisterService(&poolSet{pools: ordered})
}

// registerSnapshotServices builds the per-chain discovery pipelines and the
// services that turn them into cached snapshots.
func (n *Node) registerSnapshotServices(cliCtx *cli.Context) error {
	sources := make(map[types.ChainId]tokens.MetadataSource)
	engines := make(map[types.ChainId]*multicall.Engine)
	for id, pool := range n.pools {
		profile := pool.Profile()
		engine, err := multicall.New(pool, profile.MulticallAddress)
		if err != nil {
			return errors.Wrapf(err, "could not build multicall engine for %s", profile.Name)
		}
		sources[id] = engine
		engines[id] = engine
	}

	registry, err := tokens.New(n.db, sources)
	if err != nil {
		return errors.Wrap(err, "could not build token registry")
	}
	n.tokens = registry

	pipelines := make(map[types.ChainId]snapshot.Discoverer)
	for id, pool := range n.pools {
		profile := pool.Profile()
		cr, err := crawler.New(pool,
			crawler.WithChain(id, profile.Name),
			crawler.WithChunkSize(profile.LogChunkSize),
		)
		if err != nil {
			return errors.Wrapf(err, "could not build log crawler for %s", profile.Name)
		}
		n.crawlers[id] = cr

		var accel discovery.Accelerator
		if profile.ExplorerURL != "" && profile.ExplorerAPIKey != "" {
			accel = explorer.NewClient(profile.ExplorerURL, profile.ExplorerAPIKey)
		}
		pipelines[id] = discovery.New(profile, registry, engines[id], pool, cr, accel)
	}

	n.engine = snapshot.NewEngine(snapshot.NewBuilder(n.buildOracle(cliCtx)), pipelines, n.db)

	cacheSvc, err := cache.NewService(n.ctx, &cache.Config{
		Store:         n.db,
		Builder:       n.engine,
		TTL:           time.Duration(cliCtx.Int(flags.CacheTTLFlag.Name)) * time.Second,
		SweepInterval: time.Duration(cliCtx.Int(flags.CleanupIntervalFlag.Name)) * time.Minute,
		MaxBuilds:     int64(cliCtx.Int(flags.MaxConcurrentBuildsFlag.Name)),
	})
	if err != nil {
		return errors.Wrap(err, "could not register snapshot cache service")
	}
	n.cache = cacheSvc
	if err := n.services.RegisterService(cacheSvc); err != nil {
		return err
	}

	trackedSvc, err := tracked.NewService(n.ctx, &tracked.Config{
		Store:           n.db,
		Snapshots:       cacheSvc,
		RefreshInterval: time.Duration(cliCtx.Int(flags.RefreshIntervalFlag.Name)) * time.Second,
	})
	if err != nil {
		return errors.Wrap(err, "could not register tracked wallet service")
	}
	n.tracked = trackedSvc
	return n.services.RegisterService(trackedSvc)
}

// buildOracle returns the price oracle backing snapshot valuation. Without a
// configured upstream every holding is valued at zero.
func (n *Node) buildOracle(cliCtx *cli.Context) pricing.Oracle {
	if url := cliCtx.String(flags.PriceOracleUrlFlag.Name); url != "" {
		return pricing.NewCachedOracle(pricing.NewHTTPOracle(url))
	}
	log.Info("No price oracle configured, token valuations will be zero")
	return pricing.NewStaticOracle(nil)
}

func (n *Node) registerHeadScanners() error {
	scanners := make([]*headscan.Service, 0, len(n.pools))
	for _, profile := range chains.All() {
		pool, ok := n.pools[profile.Id]
		if !ok {
			continue
		}
		svc, err := headscan.NewService(n.ctx, &headscan.Config{
			Profile:     profile,
			Head:        pool,
			Transfers:   n.crawlers[profile.Id],
			Tracked:     n.tracked,
			Snapshots:   n.cache,
			SyncStore:   n.db,
			RecordStore: n.db,
		})
		if err != nil {
			return errors.Wrapf(err, "could not build head scanner for %s", profile.Name)
		}
		scanners = append(scanners, svc)
	}
	return n.services.RegisterService(&scannerSet{scanners: scanners})
}

func (n *Node) registerAPIService(cliCtx *cli.Context) error {
	pools := make([]api.ProviderPool, 0, len(n.pools))
	for _, profile := range chains.All() {
		if pool, ok := n.pools[profile.Id]; ok {
			pools = append(pools, pool)
		}
	}
	svc, err := api.NewService(n.ctx, &api.Config{
		Host:           cliCtx.String(flags.HTTPHost.Name),
		Port:           cliCtx.Int(flags.HTTPPort.Name),
		AllowedOrigins: strings.Split(cliCtx.String(flags.CorsOriginsFlag.Name), ","),
		Snapshots:      n.cache,
		Tracked:        n.tracked,
		Tokens:         n.tokens,
		Transfers:      n.db,
		DB:             n.db,
		Pools:          pools,
		Statuses:       n.services,
	})
	if err != nil {
		return errors.Wrap(err, "could not register API service")
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerPrometheusService(cliCtx *cli.Context) error {
	var additionalHandlers []prometheus.Handler
	additionalHandlers = append(
		additionalHandlers,
		prometheus.Handler{
			Path:    "/db/cleanup",
			Handler: cleanup.Handler(n.db, cache.DefaultHardExpiry),
		},
	)

	service := prometheus.NewService(
		fmt.Sprintf("%s:%d", cliCtx.String(cmd.MonitoringHostFlag.Name), cliCtx.Int(flags.MonitoringPortFlag.Name)),
		n.services,
		additionalHandlers...,
	)
	hook := prometheus.NewLogrusCollector()
	logrus.AddHook(hook)
	return n.services.RegisterService(service)
}

// poolSet presents the per-chain provider pools to the registry as one
// service.
type poolSet struct {
	pools []*chainrpc.Pool
}

func (ps *poolSet) Start() {
	for _, p := range ps.pools {
		p.Start()
	}
}

func (ps *poolSet) Stop() error {
	var firstErr error
	for _, p := range ps.pools {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ps *poolSet) Status() error {
	// Pool errors already carry their chain name.
	for _, p := range ps.pools {
		if err := p.Status(); err != nil {
			return err
		}
	}
	return nil
}

// scannerSet presents the per-chain head scanners to the registry as one
// service.
type scannerSet struct {
	scanners []*headscan.Service
}

func (ss *scannerSet) Start() {
	for _, s := range ss.scanners {
		s.Start()
	}
}

func (ss *scannerSet) Stop() error {
	var firstErr error
	for _, s := range ss.scanners {
		if err := s.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (ss *scannerSet) Status() error {
	for _, s := range ss.scanners {
		if err := s.Status(); err != nil {
			return errors.Wrapf(err, "chain %s", logging.ChainName(s.ChainId()))
		}
	}
	return nil
}
