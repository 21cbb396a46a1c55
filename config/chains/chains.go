// Package chains holds the per-chain profiles the engine operates on: chain
// identity, RPC endpoints, the multicall contract, and the scanning knobs.
// Profiles for ethereum, bsc and base are compiled in; deployments may extend
// or override them with a YAML file.
package chains

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mohae/deepcopy"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// Profile describes one supported chain.
type Profile struct {
	Id                 types.ChainId  `json:"chain_id"`
	Name               string         `json:"name"`
	NativeSymbol       string         `json:"native_symbol"`
	NativeDecimals     uint8          `json:"native_decimals"`
	RpcEndpoints       []string       `json:"rpc_endpoints"`
	MulticallAddress   common.Address `json:"-"`
	MulticallHex       string         `json:"multicall_address,omitempty"`
	LogChunkSize       uint64         `json:"log_chunk_size"`
	ScannerConcurrency int64          `json:"scanner_concurrency"`
	StartBlock         uint64         `json:"start_block"`
	ExplorerURL        string         `json:"explorer_url,omitempty"`
	ExplorerAPIKey     string         `json:"-"`
	BlockTime          time.Duration  `json:"-"`
}

// Copy returns a deep copy of the profile.
func (p *Profile) Copy() *Profile {
	c := deepcopy.Copy(*p).(Profile)
	return &c
}

var (
	registryLock sync.RWMutex
	registry     = make(map[types.ChainId]*Profile)
)

// Register installs or replaces a profile. Endpoint overrides are expected
// to have been applied by the caller; a profile with no endpoints registers
// fine and fails at pool construction instead.
func Register(p *Profile) error {
	if p == nil || p.Id == 0 {
		return errors.New("profile missing chain id")
	}
	if p.Name == "" {
		return errors.Errorf("profile %d missing name", p.Id)
	}
	if p.MulticallHex != "" {
		p.MulticallAddress = common.HexToAddress(p.MulticallHex)
	}
	if p.ScannerConcurrency <= 0 {
		p.ScannerConcurrency = 2
	}
	if p.LogChunkSize == 0 {
		p.LogChunkSize = 2000
	}
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[p.Id] = p
	return nil
}

// ById returns the profile for a chain id.
func ById(id types.ChainId) (*Profile, error) {
	registryLock.RLock()
	defer registryLock.RUnlock()
	p, ok := registry[id]
	if !ok {
		return nil, errors.Wrapf(types.ErrUnsupportedChain, "chain %d", id)
	}
	return p, nil
}

// IsSupported reports whether a profile exists for the chain id.
func IsSupported(id types.ChainId) bool {
	registryLock.RLock()
	defer registryLock.RUnlock()
	_, ok := registry[id]
	return ok
}

// All returns the registered profiles ordered by chain id.
func All() []*Profile {
	registryLock.RLock()
	defer registryLock.RUnlock()
	out := make([]*Profile, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// SetEndpoints replaces the RPC endpoint list for a chain, preserving order.
func SetEndpoints(id types.ChainId, urls []string) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	p, ok := registry[id]
	if !ok {
		return errors.Wrapf(types.ErrUnsupportedChain, "chain %d", id)
	}
	deduped := make([]string, 0, len(urls))
	seen := make(map[string]bool)
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		deduped = append(deduped, u)
	}
	p.RpcEndpoints = deduped
	return nil
}

// SetExplorerAPIKey sets the block-explorer API key for a chain.
func SetExplorerAPIKey(id types.ChainId, key string) error {
	registryLock.Lock()
	defer registryLock.Unlock()
	p, ok := registry[id]
	if !ok {
		return errors.Wrapf(types.ErrUnsupportedChain, "chain %d", id)
	}
	p.ExplorerAPIKey = key
	return nil
}

func init() {
	for _, p := range defaultProfiles() {
		if err := Register(p); err != nil {
			panic(err)
		}
	}
}
