// Package types holds the domain model shared by every tokenscope component:
// chain and address primitives, token metadata, the snapshot document served
// by the API, and the error kinds the components communicate with.
package types

import (
	"time"
)

// ChainId identifies an EVM chain (1 = ethereum, 56 = bsc, 8453 = base).
type ChainId uint64

// TokenMeta is a row of the token registry, keyed by (chain, address).
type TokenMeta struct {
	ChainId      ChainId   `db:"chain_id" json:"chain_id"`
	Address      Address   `db:"address" json:"address"`
	Symbol       string    `db:"symbol" json:"symbol"`
	Name         string    `db:"name" json:"name"`
	Decimals     uint8     `db:"decimals" json:"decimals"`
	Logo         string    `db:"logo" json:"logo,omitempty"`
	Verified     bool      `db:"verified" json:"verified"`
	PossibleSpam bool      `db:"possible_spam" json:"possible_spam"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"-"`
}

// TokenBalance is one row of a wallet snapshot. Balance carries the raw
// amount as an arbitrary-precision decimal string; BalanceFormatted is
// exactly Balance scaled down by 10^Decimals.
type TokenBalance struct {
	TokenAddress        Address `json:"token_address"`
	Symbol              string  `json:"symbol"`
	Name                string  `json:"name"`
	Decimals            uint8   `json:"decimals"`
	Logo                string  `json:"logo,omitempty"`
	Balance             string  `json:"balance"`
	BalanceFormatted    string  `json:"balance_formatted"`
	NativeToken         bool    `json:"native_token"`
	PossibleSpam        bool    `json:"possible_spam"`
	UsdPrice            float64 `json:"usd_price"`
	UsdValue            float64 `json:"usd_value"`
	PortfolioPercentage float64 `json:"portfolio_percentage"`
}

// WalletSnapshot is the canonical portfolio document for one (chain, wallet)
// pair. Result holds the native entry first when present, then the remaining
// entries ordered by usd_value descending with symbol as the tie break.
type WalletSnapshot struct {
	ChainId     ChainId         `json:"chain_id"`
	ChainName   string          `json:"chain_name"`
	Wallet      Address         `json:"wallet"`
	Native      string          `json:"native"`
	Result      []*TokenBalance `json:"result"`
	BlockNumber uint64          `json:"block_number"`
	Syncing     bool            `json:"syncing"`
	Count       int             `json:"count"`
}

// AggregateSnapshot is the multi-chain view returned by the wallet aggregate
// endpoint. Totals are computed over non-spam entries only.
type AggregateSnapshot struct {
	Wallet      Address           `json:"wallet"`
	TotalUsd    float64           `json:"total_usd"`
	TotalTokens int               `json:"total_tokens"`
	ChainsCount int               `json:"chains_count"`
	Chains      []*WalletSnapshot `json:"chains"`
}

// CacheEntry is a persisted snapshot row. The relational columns drive the
// sweepers; Data is the denormalized read model.
type CacheEntry struct {
	ChainId     ChainId
	Wallet      Address
	Data        *WalletSnapshot
	LastUpdated time.Time
	ExpiresAt   time.Time
	Syncing     bool
}

// TrackedWallet is a registered wallet kept warm by the refresher and
// invalidated by the head scanner.
type TrackedWallet struct {
	Wallet    Address   `json:"address"`
	Chains    []ChainId `json:"chains"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Active    bool      `json:"active"`
}

// Block sync states recorded per chain by the head scanner.
const (
	SyncStatusActive = "active"
	SyncStatusPaused = "paused"
	SyncStatusError  = "error"
)

// BlockSyncStatus records head-scanner progress for one chain. The scanner
// maintains synced_block <= latest_block.
type BlockSyncStatus struct {
	ChainId     ChainId   `db:"chain_id" json:"chain_id"`
	LatestBlock uint64    `db:"latest_block" json:"latest_block"`
	SyncedBlock uint64    `db:"synced_block" json:"synced_block"`
	LastSync    time.Time `db:"last_sync" json:"last_sync"`
	Status      string    `db:"status" json:"status"`
}

// Transfer directions relative to the wallet a record belongs to.
const (
	DirectionIn   = "in"
	DirectionOut  = "out"
	DirectionSelf = "self"
)

// TransferRecord is a normalized token transfer touching a tracked wallet,
// as served by the transactions endpoint. Amount is a decimal string.
type TransferRecord struct {
	ChainId      ChainId   `db:"chain_id" json:"chain_id"`
	Wallet       Address   `db:"wallet" json:"wallet"`
	TokenAddress Address   `db:"token_address" json:"token_address"`
	TxHash       string    `db:"tx_hash" json:"tx_hash"`
	LogIndex     uint      `db:"log_index" json:"log_index"`
	BlockNumber  uint64    `db:"block_number" json:"block_number"`
	Direction    string    `db:"direction" json:"direction"`
	Counterparty Address   `db:"counterparty" json:"counterparty"`
	Amount       string    `db:"amount" json:"amount"`
	Timestamp    time.Time `db:"ts" json:"timestamp"`
}

// ProviderHealth is the opportunistically persisted health record for one
// RPC endpoint.
type ProviderHealth struct {
	ChainId        ChainId   `db:"chain_id" json:"chain_id"`
	URL            string    `db:"url" json:"url"`
	Healthy        bool      `db:"healthy" json:"healthy"`
	LastCheck      time.Time `db:"last_check" json:"last_check"`
	ResponseTimeMs int64     `db:"response_time_ms" json:"response_time_ms"`
	ErrorCount     uint64    `db:"error_count" json:"error_count"`
}

// TokenPage is one page of a token search or listing.
type TokenPage struct {
	Tokens      []*TokenMeta `json:"tokens"`
	Total       int          `json:"total"`
	Page        int          `json:"page"`
	Limit       int          `json:"limit"`
	HasNextPage bool         `json:"has_next_page"`
}

// TransferPage is one page of the transactions endpoint.
type TransferPage struct {
	Transfers   []*TransferRecord `json:"transfers"`
	Total       int               `json:"total"`
	Page        int               `json:"page"`
	Limit       int               `json:"limit"`
	HasNextPage bool              `json:"has_next_page"`
}
