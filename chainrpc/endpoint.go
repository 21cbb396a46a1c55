package chainrpc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tokenscopelabs/tokenscope/network"
)

// endpoint wraps one configured provider URL with its dialed client and
// lock-free health state. All counters are atomics so the hot call path never
// takes a lock.
type endpoint struct {
	cfg network.Endpoint

	clientLock sync.RWMutex
	client     RPCClient

	healthy         int32 // 1 while the endpoint is considered usable
	consecutiveErrs int32
	unhealthySince  int64 // unix nanos of the moment the endpoint was benched
	lastCheck       int64 // unix nanos of the last success or probe
	latencyMs       int64 // EWMA of observed request latency
	errTotal        uint64
}

func newEndpoint(cfg network.Endpoint) *endpoint {
	return &endpoint{cfg: cfg, healthy: 1}
}

func (e *endpoint) getClient() RPCClient {
	e.clientLock.RLock()
	defer e.clientLock.RUnlock()
	return e.client
}

func (e *endpoint) setClient(c RPCClient) {
	e.clientLock.Lock()
	old := e.client
	e.client = c
	e.clientLock.Unlock()
	if old != nil && old != c {
		old.Close()
	}
}

func (e *endpoint) close() {
	e.setClient(nil)
}

func (e *endpoint) isHealthy() bool {
	return atomic.LoadInt32(&e.healthy) == 1
}

// isCandidate reports whether calls may be routed to the endpoint: healthy,
// or benched long enough ago that the cooldown has elapsed.
func (e *endpoint) isCandidate(cooldown time.Duration) bool {
	if e.isHealthy() {
		return true
	}
	benched := atomic.LoadInt64(&e.unhealthySince)
	return benched > 0 && time.Since(time.Unix(0, benched)) >= cooldown
}

func (e *endpoint) markSuccess(latency time.Duration) {
	atomic.StoreInt32(&e.consecutiveErrs, 0)
	atomic.StoreInt32(&e.healthy, 1)
	atomic.StoreInt64(&e.unhealthySince, 0)
	atomic.StoreInt64(&e.lastCheck, time.Now().UnixNano())
	sample := latency.Milliseconds()
	prev := atomic.LoadInt64(&e.latencyMs)
	if prev == 0 {
		atomic.StoreInt64(&e.latencyMs, sample)
	} else {
		atomic.StoreInt64(&e.latencyMs, (prev*7+sample)/8)
	}
}

// markFailure increments the consecutive error count and benches the endpoint
// once maxConsecutiveFailures is reached.
func (e *endpoint) markFailure() {
	atomic.AddUint64(&e.errTotal, 1)
	if atomic.AddInt32(&e.consecutiveErrs, 1) >= maxConsecutiveFailures {
		if atomic.CompareAndSwapInt32(&e.healthy, 1, 0) {
			atomic.StoreInt64(&e.unhealthySince, time.Now().UnixNano())
		} else {
			// Already benched; restart the cooldown window.
			atomic.StoreInt64(&e.unhealthySince, time.Now().UnixNano())
		}
	}
}

func (e *endpoint) errorCount() uint64 {
	return atomic.LoadUint64(&e.errTotal)
}

func (e *endpoint) latency() int64 {
	return atomic.LoadInt64(&e.latencyMs)
}

func (e *endpoint) lastChecked() time.Time {
	n := atomic.LoadInt64(&e.lastCheck)
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
