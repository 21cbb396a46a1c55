package chainrpc

import (
	"time"

	"github.com/tokenscopelabs/tokenscope/network"
)

type Option func(p *Pool) error

// WithEndpoints deduplicates and parses the provider strings for the pool,
// preserving their priority order. The first endpoint is tried first.
func WithEndpoints(endpointStrings []string) Option {
	return func(p *Pool) error {
		stringEndpoints := dedupEndpoints(endpointStrings)
		endpoints := make([]network.Endpoint, len(stringEndpoints))
		for i, e := range stringEndpoints {
			endpoints[i] = network.HttpEndpoint(e)
		}
		p.cfg.endpoints = endpoints
		return nil
	}
}

// WithTimeout overrides the per-request RPC timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) error {
		p.cfg.timeout = d
		return nil
	}
}

// WithRetries caps how many endpoints a single call may walk before giving
// up. Zero means one attempt per configured endpoint.
func WithRetries(n int) Option {
	return func(p *Pool) error {
		p.cfg.retries = n
		return nil
	}
}

// WithJwtSecret signs requests to endpoints that carry no explicit
// authorization with per-request HS256 tokens.
func WithJwtSecret(secret []byte) Option {
	return func(p *Pool) error {
		secretCopy := make([]byte, len(secret))
		copy(secretCopy, secret)
		p.cfg.jwtSecret = secretCopy
		return nil
	}
}

// WithHealthStore persists endpoint health opportunistically after each probe
// sweep.
func WithHealthStore(store HealthStore) Option {
	return func(p *Pool) error {
		p.cfg.healthStore = store
		return nil
	}
}

// WithProbeInterval overrides the background health probe interval.
func WithProbeInterval(d time.Duration) Option {
	return func(p *Pool) error {
		p.cfg.probeInterval = d
		return nil
	}
}

// WithCooldown overrides how long a benched endpoint stays out of rotation.
func WithCooldown(d time.Duration) Option {
	return func(p *Pool) error {
		p.cfg.cooldown = d
		return nil
	}
}

// WithDialer replaces the dial function, letting tests wire fake clients.
func WithDialer(dial DialFn) Option {
	return func(p *Pool) error {
		p.cfg.dial = dial
		return nil
	}
}

func dedupEndpoints(endpoints []string) []string {
	selectionMap := make(map[string]bool)
	newEndpoints := make([]string, 0, len(endpoints))
	for _, point := range endpoints {
		if selectionMap[point] {
			continue
		}
		newEndpoints = append(newEndpoints, point)
		selectionMap[point] = true
	}
	return newEndpoints
}
