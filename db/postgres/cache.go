package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

type cacheRow struct {
	ChainId     int64     `db:"chain_id"`
	Wallet      string    `db:"wallet"`
	Data        []byte    `db:"data"`
	LastUpdated time.Time `db:"last_updated"`
	ExpiresAt   time.Time `db:"expires_at"`
	Syncing     bool      `db:"syncing"`
}

// CachedSnapshot loads one cache row, or nil when the wallet has never been
// built on this chain.
func (s *Store) CachedSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address) (*types.CacheEntry, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row,
		`SELECT chain_id, wallet, data, last_updated, expires_at, syncing
		 FROM wallet_cache WHERE chain_id = $1 AND wallet = $2`,
		chainId, wallet)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select cache row: %v", err)
	}
	snapshot := &types.WalletSnapshot{}
	if err := json.Unmarshal(row.Data, snapshot); err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "decode cached snapshot: %v", err)
	}
	return &types.CacheEntry{
		ChainId:     types.ChainId(row.ChainId),
		Wallet:      types.Address(row.Wallet),
		Data:        snapshot,
		LastUpdated: row.LastUpdated,
		ExpiresAt:   row.ExpiresAt,
		Syncing:     row.Syncing,
	}, nil
}

// SaveSnapshot writes a freshly built snapshot, creating the row on first
// build. The row lock keeps concurrent column updates from interleaving.
func (s *Store) SaveSnapshot(ctx context.Context, entry *types.CacheEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockCacheRow(ctx, tx, entry.ChainId, entry.Wallet); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO wallet_cache (chain_id, wallet, data, last_updated, expires_at, syncing)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (chain_id, wallet) DO UPDATE SET
				data = EXCLUDED.data,
				last_updated = EXCLUDED.last_updated,
				expires_at = EXCLUDED.expires_at,
				syncing = EXCLUDED.syncing`,
			entry.ChainId, entry.Wallet, data, entry.LastUpdated, entry.ExpiresAt, entry.Syncing)
		if err != nil {
			return errors.Wrapf(types.ErrDatabase, "upsert cache row: %v", err)
		}
		return nil
	})
}

// SetSyncing flips the persistent syncing flag. Absent rows are left alone;
// the flag only matters for rows other processes can observe.
func (s *Store) SetSyncing(ctx context.Context, chainId types.ChainId, wallet types.Address, syncing bool) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockCacheRow(ctx, tx, chainId, wallet); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE wallet_cache SET syncing = $3 WHERE chain_id = $1 AND wallet = $2`,
			chainId, wallet, syncing)
		if err != nil {
			return errors.Wrapf(types.ErrDatabase, "update syncing flag: %v", err)
		}
		return nil
	})
}

// InvalidateSnapshot zeroes last_updated so the next read sees the entry as
// stale and schedules a rebuild. Safe to repeat.
func (s *Store) InvalidateSnapshot(ctx context.Context, chainId types.ChainId, wallet types.Address) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := lockCacheRow(ctx, tx, chainId, wallet); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE wallet_cache SET last_updated = to_timestamp(0) WHERE chain_id = $1 AND wallet = $2`,
			chainId, wallet)
		if err != nil {
			return errors.Wrapf(types.ErrDatabase, "invalidate cache row: %v", err)
		}
		return nil
	})
}

// ClearStuckSyncing clears syncing flags abandoned by a crashed process.
func (s *Store) ClearStuckSyncing(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wallet_cache SET syncing = FALSE
		 WHERE syncing = TRUE AND last_updated < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, errors.Wrapf(types.ErrDatabase, "clear stuck syncing: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(types.ErrDatabase, "rows affected: %v", err)
	}
	return n, nil
}

// DeleteExpiredSnapshots drops rows past the hard expiry, sparing wallets
// that are actively tracked.
func (s *Store) DeleteExpiredSnapshots(ctx context.Context, hardExpiry time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM wallet_cache wc
		 WHERE wc.last_updated + make_interval(secs => $1) < now()
		 AND NOT EXISTS (
			SELECT 1 FROM tracked_wallets tw WHERE tw.wallet = wc.wallet AND tw.active
		 )`,
		hardExpiry.Seconds())
	if err != nil {
		return 0, errors.Wrapf(types.ErrDatabase, "delete expired rows: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(types.ErrDatabase, "rows affected: %v", err)
	}
	return n, nil
}

func lockCacheRow(ctx context.Context, tx *sqlx.Tx, chainId types.ChainId, wallet types.Address) error {
	var one int
	err := tx.GetContext(ctx, &one,
		`SELECT 1 FROM wallet_cache WHERE chain_id = $1 AND wallet = $2 FOR UPDATE`,
		chainId, wallet)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrapf(types.ErrDatabase, "lock cache row: %v", err)
	}
	return nil
}
