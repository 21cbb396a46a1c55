// Package chainrpc maintains the per-chain pool of JSON-RPC providers: health
// tracking with automatic failover, bounded retries, optional quorum reads,
// and a background probe that returns benched endpoints to rotation.
package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethTypes "github.com/ethereum/go-ethereum/core/types"
	gethRPC "github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/async"
	"github.com/tokenscopelabs/tokenscope/config/chains"
	"github.com/tokenscopelabs/tokenscope/io/logs"
	"github.com/tokenscopelabs/tokenscope/network"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "chainrpc")

const (
	// DefaultRPCTimeout bounds a single request to one endpoint.
	DefaultRPCTimeout = 4 * time.Second
	// maxConsecutiveFailures benches an endpoint.
	maxConsecutiveFailures = 3
	defaultCooldown        = 30 * time.Second
	defaultProbeInterval   = 60 * time.Second
)

// HealthStore persists endpoint health records opportunistically.
type HealthStore interface {
	SaveProviderHealth(ctx context.Context, records []*types.ProviderHealth) error
}

type poolConfig struct {
	endpoints     []network.Endpoint
	timeout       time.Duration
	retries       int
	jwtSecret     []byte
	healthStore   HealthStore
	probeInterval time.Duration
	cooldown      time.Duration
	dial          DialFn
}

// Pool routes JSON-RPC calls for one chain across its configured endpoints.
// Endpoints are held in priority order: every call starts at the highest
// priority candidate, so a flaky primary collects its strikes and benches
// itself while traffic drains to the alternatives.
type Pool struct {
	cfg       *poolConfig
	ctx       context.Context
	cancel    context.CancelFunc
	chain     *chains.Profile
	endpoints []*endpoint

	statusLock sync.RWMutex
	runError   error
	started    bool
}

// NewPool builds a pool for the chain profile. Endpoints default to the
// profile's RPC list; options may override any knob.
func NewPool(ctx context.Context, chain *chains.Profile, opts ...Option) (*Pool, error) {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		chain:  chain,
		cfg: &poolConfig{
			timeout:       DefaultRPCTimeout,
			probeInterval: defaultProbeInterval,
			cooldown:      defaultCooldown,
			dial:          dialEndpoint,
		},
	}
	if err := WithEndpoints(chain.RpcEndpoints)(p); err != nil {
		cancel()
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			cancel()
			return nil, err
		}
	}
	if len(p.cfg.endpoints) == 0 {
		cancel()
		return nil, errors.Errorf("no RPC endpoints configured for chain %s", chain.Name)
	}
	if p.cfg.retries <= 0 {
		p.cfg.retries = len(p.cfg.endpoints)
	}
	p.endpoints = make([]*endpoint, len(p.cfg.endpoints))
	for i, cfg := range p.cfg.endpoints {
		p.endpoints[i] = newEndpoint(cfg)
	}
	return p, nil
}

// Start dials the endpoints and launches the background health probe.
func (p *Pool) Start() {
	p.statusLock.Lock()
	p.started = true
	p.statusLock.Unlock()
	log.WithFields(logrus.Fields{
		"chain":     p.chain.Name,
		"endpoints": len(p.endpoints),
	}).Info("Starting provider pool")
	async.RunNowAndEvery(p.ctx, p.cfg.probeInterval, p.probe)
}

// Stop cancels the pool context and closes every dialed client.
func (p *Pool) Stop() error {
	p.cancel()
	for _, e := range p.endpoints {
		e.close()
	}
	return nil
}

// Status errs while no endpoint is usable.
func (p *Pool) Status() error {
	p.statusLock.RLock()
	defer p.statusLock.RUnlock()
	if p.runError != nil {
		return p.runError
	}
	if p.started && p.NumHealthy() == 0 {
		return errors.Wrapf(types.ErrProviderUnavailable, "chain %s", p.chain.Name)
	}
	return nil
}

// ChainId returns the chain this pool serves.
func (p *Pool) ChainId() types.ChainId {
	return p.chain.Id
}

// Profile returns the chain profile this pool serves.
func (p *Pool) Profile() *chains.Profile {
	return p.chain
}

// NumHealthy counts endpoints currently in rotation.
func (p *Pool) NumHealthy() int {
	n := 0
	for _, e := range p.endpoints {
		if e.isHealthy() {
			n++
		}
	}
	return n
}

// HealthSnapshot reports the current view of every endpoint.
func (p *Pool) HealthSnapshot() []*types.ProviderHealth {
	out := make([]*types.ProviderHealth, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		out = append(out, &types.ProviderHealth{
			ChainId:        p.chain.Id,
			URL:            logs.MaskCredentialsLogging(e.cfg.Url),
			Healthy:        e.isHealthy(),
			LastCheck:      e.lastChecked(),
			ResponseTimeMs: e.latency(),
			ErrorCount:     e.errorCount(),
		})
	}
	return out
}

// CallContext issues one JSON-RPC call with retry and failover.
func (p *Pool) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return p.do(ctx, method, func(cctx context.Context, c RPCClient) error {
		return c.CallContext(cctx, result, method, args...)
	})
}

// BatchCallContext issues a batch of calls to a single endpoint with the same
// retry and failover discipline. Per-element errors inside the batch are left
// for the caller to inspect.
func (p *Pool) BatchCallContext(ctx context.Context, b []gethRPC.BatchElem) error {
	return p.do(ctx, "batch", func(cctx context.Context, c RPCClient) error {
		return c.BatchCallContext(cctx, b)
	})
}

// do walks the candidate endpoints in priority order, bounded by the
// configured retry budget.
func (p *Pool) do(ctx context.Context, method string, fn func(context.Context, RPCClient) error) error {
	var lastErr error
	attempts := 0
	for _, e := range p.endpoints {
		if attempts >= p.cfg.retries {
			break
		}
		if !e.isCandidate(p.cfg.cooldown) {
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempts++
		client, err := p.clientFor(e)
		if err != nil {
			lastErr = err
			p.noteFailure(e, err)
			p.logFallback(e, err)
			continue
		}
		rpcRequestCount.WithLabelValues(p.chain.Name, method).Inc()
		start := time.Now()
		cctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
		err = fn(cctx, client)
		cancel()
		elapsed := time.Since(start)
		rpcRequestLatency.WithLabelValues(p.chain.Name, method).Observe(float64(elapsed.Milliseconds()))
		if err == nil {
			e.markSuccess(elapsed)
			return nil
		}
		if passthroughError(err) {
			// The provider answered; reverts and range limits are the
			// caller's business.
			e.markSuccess(elapsed)
			return err
		}
		lastErr = err
		if !isProviderFailure(err) {
			// Application-level rejection that would fail identically
			// everywhere, e.g. invalid params.
			return err
		}
		p.noteFailure(e, err)
		p.logFallback(e, err)
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate endpoints")
	}
	return errors.Wrapf(types.ErrProviderUnavailable, "chain %s: %v", p.chain.Name, lastErr)
}

func (p *Pool) clientFor(e *endpoint) (RPCClient, error) {
	if c := e.getClient(); c != nil {
		return c, nil
	}
	c, err := p.cfg.dial(p.ctx, e.cfg, p.cfg.timeout, p.cfg.jwtSecret)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", logs.MaskCredentialsLogging(e.cfg.Url))
	}
	e.setClient(c)
	return c, nil
}

func (p *Pool) noteFailure(e *endpoint, err error) {
	rpcRequestFailures.WithLabelValues(p.chain.Name, failureReason(err)).Inc()
	e.markFailure()
	p.updateUnhealthyGauge()
}

func (p *Pool) logFallback(e *endpoint, err error) {
	rpcFailovers.WithLabelValues(p.chain.Name).Inc()
	log.WithError(err).WithFields(logrus.Fields{
		"chain":    p.chain.Name,
		"endpoint": logs.MaskCredentialsLogging(e.cfg.Url),
	}).Debug("Falling back to alternative endpoint")
}

func (p *Pool) updateUnhealthyGauge() {
	rpcUnhealthyEndpoints.WithLabelValues(p.chain.Name).Set(float64(len(p.endpoints) - p.NumHealthy()))
}

// QuorumCallContext fans the call out to quorum distinct candidate endpoints
// and succeeds only when a strict majority returned byte-identical results.
func (p *Pool) QuorumCallContext(ctx context.Context, result interface{}, quorum int, method string, args ...interface{}) error {
	cands := p.candidateEndpoints()
	if quorum < 2 || len(cands) < 2 {
		return p.CallContext(ctx, result, method, args...)
	}
	if quorum > len(cands) {
		quorum = len(cands)
	}
	type reply struct {
		raw json.RawMessage
		err error
	}
	replies := make(chan reply, quorum)
	for i := 0; i < quorum; i++ {
		e := cands[i]
		go func() {
			var raw json.RawMessage
			err := p.callEndpoint(ctx, e, &raw, method, args...)
			replies <- reply{raw: raw, err: err}
		}()
	}
	counts := make(map[string]int)
	var firstErr error
	succeeded := 0
	for i := 0; i < quorum; i++ {
		r := <-replies
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		succeeded++
		counts[string(bytes.TrimSpace(r.raw))]++
	}
	if succeeded == 0 {
		if firstErr == nil {
			firstErr = errors.New("no quorum responses")
		}
		return errors.Wrapf(types.ErrProviderUnavailable, "chain %s: %v", p.chain.Name, firstErr)
	}
	for raw, n := range counts {
		if n > quorum/2 {
			return json.Unmarshal([]byte(raw), result)
		}
	}
	rpcQuorumDisagreements.WithLabelValues(p.chain.Name).Inc()
	return errors.Wrapf(types.ErrProviderDisagreement, "chain %s method %s: %d distinct results from %d providers", p.chain.Name, method, len(counts), quorum)
}

// callEndpoint targets one specific endpoint, bypassing failover, with the
// same health accounting as the main path.
func (p *Pool) callEndpoint(ctx context.Context, e *endpoint, result interface{}, method string, args ...interface{}) error {
	client, err := p.clientFor(e)
	if err != nil {
		p.noteFailure(e, err)
		return err
	}
	rpcRequestCount.WithLabelValues(p.chain.Name, method).Inc()
	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, p.cfg.timeout)
	err = client.CallContext(cctx, result, method, args...)
	cancel()
	elapsed := time.Since(start)
	if err == nil || passthroughError(err) {
		e.markSuccess(elapsed)
		return err
	}
	if isProviderFailure(err) {
		p.noteFailure(e, err)
	}
	return err
}

func (p *Pool) candidateEndpoints() []*endpoint {
	out := make([]*endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.isCandidate(p.cfg.cooldown) {
			out = append(out, e)
		}
	}
	return out
}

// BlockNumber reads the latest block number through the failover path.
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := p.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// QuorumBlockNumber reads the latest block number with the given quorum. On
// disagreement it retries once with a larger quorum before reporting the pool
// unavailable.
func (p *Pool) QuorumBlockNumber(ctx context.Context, quorum int) (uint64, error) {
	var result hexutil.Uint64
	err := p.QuorumCallContext(ctx, &result, quorum, "eth_blockNumber")
	if errors.Is(err, types.ErrProviderDisagreement) {
		err = p.QuorumCallContext(ctx, &result, quorum+1, "eth_blockNumber")
		if errors.Is(err, types.ErrProviderDisagreement) {
			return 0, errors.Wrapf(types.ErrProviderUnavailable, "chain %s: unresolved quorum disagreement", p.chain.Name)
		}
	}
	if err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// Balance reads the native balance of an address at the latest block.
func (p *Pool) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var result hexutil.Big
	if err := p.CallContext(ctx, &result, "eth_getBalance", addr, "latest"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

// CallContract executes a read-only contract call at the latest block.
func (p *Pool) CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var result hexutil.Bytes
	if err := p.CallContext(ctx, &result, "eth_call", callMsg{To: to, Data: data}, "latest"); err != nil {
		return nil, err
	}
	return result, nil
}

// FilterLogs runs eth_getLogs for the query through the failover path.
func (p *Pool) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]gethTypes.Log, error) {
	arg, err := toFilterArg(q)
	if err != nil {
		return nil, err
	}
	var result []gethTypes.Log
	if err := p.CallContext(ctx, &result, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	return result, nil
}

// probe issues a cheap eth_blockNumber against every endpoint, restoring the
// healthy flag on success and persisting the sweep when a store is wired.
func (p *Pool) probe() {
	for _, e := range p.endpoints {
		client, err := p.clientFor(e)
		if err != nil {
			e.markFailure()
			continue
		}
		var result hexutil.Uint64
		start := time.Now()
		cctx, cancel := context.WithTimeout(p.ctx, p.cfg.timeout)
		err = client.CallContext(cctx, &result, "eth_blockNumber")
		cancel()
		if err != nil {
			e.markFailure()
			continue
		}
		if !e.isHealthy() {
			log.WithFields(logrus.Fields{
				"chain":    p.chain.Name,
				"endpoint": logs.MaskCredentialsLogging(e.cfg.Url),
			}).Info("Endpoint restored to rotation")
		}
		e.markSuccess(time.Since(start))
	}
	p.updateUnhealthyGauge()
	p.statusLock.Lock()
	if p.NumHealthy() == 0 {
		p.runError = errors.Wrapf(types.ErrProviderUnavailable, "chain %s", p.chain.Name)
	} else {
		p.runError = nil
	}
	p.statusLock.Unlock()
	if p.cfg.healthStore != nil {
		ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
		defer cancel()
		if err := p.cfg.healthStore.SaveProviderHealth(ctx, p.HealthSnapshot()); err != nil {
			log.WithError(err).Warn("Could not persist provider health")
		}
	}
}
