// Package db defines the persistence surface the tokenscope services consume.
// Implementations live in subpackages; components depend on the narrow slice
// they need so tests can swap in fakes.
package db

import (
	"context"
	"io"
	"time"

	"github.com/tokenscopelabs/tokenscope/types"
)

// TokenQuery captures one token search request after validation.
type TokenQuery struct {
	ChainId types.ChainId
	// Search matches a case-insensitive substring of symbol or name, or the
	// exact address when it parses as one.
	Search   string
	Verified *bool
	Spam     *bool
	Page     int
	Limit    int
}

// TokenStore persists token metadata discovered on chain or seeded offline.
type TokenStore interface {
	TokensByAddress(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]*types.TokenMeta, error)
	SearchTokens(ctx context.Context, q TokenQuery) (*types.TokenPage, error)
	VerifiedTokenAddresses(ctx context.Context, chainId types.ChainId) ([]types.Address, error)
	UpsertToken(ctx context.Context, meta *types.TokenMeta) error
}

// CacheStore persists wallet snapshots and the columns the sweepers scan.
type CacheStore interface {
	// CachedSnapshot returns nil without error when no row exists.
	CachedSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address) (*types.CacheEntry, error)
	SaveSnapshot(ctx context.Context, entry *types.CacheEntry) error
	SetSyncing(ctx context.Context, chainId types.ChainId, wallet types.Address, syncing bool) error
	// InvalidateSnapshot zeroes last_updated so the next read classifies the
	// entry as stale. Invalidating an absent row is a no-op.
	InvalidateSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address) error
	ClearStuckSyncing(ctx context.Context, olderThan time.Duration) (int64, error)
	// DeleteExpiredSnapshots removes rows past the hard expiry unless the
	// wallet is actively tracked.
	DeleteExpiredSnapshots(ctx context.Context, hardExpiry time.Duration) (int64, error)
}

// TrackedStore persists the tracked wallet registry.
type TrackedStore interface {
	UpsertTrackedWallet(ctx context.Context, wallet types.Address, chains []types.ChainId) (*types.TrackedWallet, error)
	// DeactivateTrackedWallet returns types.ErrNotTracked when the wallet is
	// absent or already inactive.
	DeactivateTrackedWallet(ctx context.Context, wallet types.Address) error
	TrackedWallets(ctx context.Context) ([]*types.TrackedWallet, error)
}

// SyncStore persists head scanner progress per chain.
type SyncStore interface {
	// BlockSyncStatus returns nil without error when the chain has no row.
	BlockSyncStatus(ctx context.Context, chainId types.ChainId) (*types.BlockSyncStatus, error)
	SaveBlockSyncStatus(ctx context.Context, status *types.BlockSyncStatus) error
}

// TransferStore persists normalized transfers touching tracked wallets.
type TransferStore interface {
	// SaveTransfers is idempotent on (chain, tx, logIndex, wallet).
	SaveTransfers(ctx context.Context, records []*types.TransferRecord) error
	TransfersByWallet(ctx context.Context, chainId types.ChainId, wallet types.Address, page, limit int) (*types.TransferPage, error)
}

// HealthStore persists provider pool health opportunistically.
type HealthStore interface {
	SaveProviderHealth(ctx context.Context, records []*types.ProviderHealth) error
	ProviderHealth(ctx context.Context) ([]*types.ProviderHealth, error)
}

// Database is the full persistence surface of the process.
type Database interface {
	io.Closer
	TokenStore
	CacheStore
	TrackedStore
	SyncStore
	TransferStore
	HealthStore
	Ping(ctx context.Context) error
}
