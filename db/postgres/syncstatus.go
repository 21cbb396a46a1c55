package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// BlockSyncStatus loads head scanner progress for one chain, or nil when the
// scanner has never run there.
func (s *Store) BlockSyncStatus(ctx context.Context, chainId types.ChainId) (*types.BlockSyncStatus, error) {
	status := &types.BlockSyncStatus{}
	err := s.db.GetContext(ctx, status,
		`SELECT chain_id, latest_block, synced_block, last_sync, status
		 FROM block_sync_status WHERE chain_id = $1`,
		chainId)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select sync status: %v", err)
	}
	return status, nil
}

// SaveBlockSyncStatus persists scanner progress after each poll.
func (s *Store) SaveBlockSyncStatus(ctx context.Context, status *types.BlockSyncStatus) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO block_sync_status (chain_id, latest_block, synced_block, last_sync, status)
		 VALUES (:chain_id, :latest_block, :synced_block, now(), :status)
		 ON CONFLICT (chain_id) DO UPDATE SET
			latest_block = EXCLUDED.latest_block,
			synced_block = EXCLUDED.synced_block,
			last_sync = now(),
			status = EXCLUDED.status`,
		status)
	if err != nil {
		return errors.Wrapf(types.ErrDatabase, "upsert sync status: %v", err)
	}
	return nil
}
