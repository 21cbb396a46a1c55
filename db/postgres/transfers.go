package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// SaveTransfers records transfers touching tracked wallets. Replays are
// ignored via the uniqueness of (chain, tx, logIndex, wallet).
func (s *Store) SaveTransfers(ctx context.Context, records []*types.TransferRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, rec := range records {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO wallet_transactions
					(chain_id, wallet, token_address, tx_hash, log_index, block_number, direction, counterparty, amount)
				 VALUES
					(:chain_id, :wallet, :token_address, :tx_hash, :log_index, :block_number, :direction, :counterparty, CAST(:amount AS NUMERIC))
				 ON CONFLICT (chain_id, tx_hash, log_index, wallet) DO NOTHING`,
				rec)
			if err != nil {
				return errors.Wrapf(types.ErrDatabase, "insert transfer %s/%d: %v", rec.TxHash, rec.LogIndex, err)
			}
		}
		return nil
	})
}

// TransfersByWallet pages through recorded transfers, newest block first.
func (s *Store) TransfersByWallet(ctx context.Context, chainId types.ChainId, wallet types.Address, page, limit int) (*types.TransferPage, error) {
	var total int
	err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM wallet_transactions WHERE chain_id = $1 AND wallet = $2`,
		chainId, wallet)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "count transfers: %v", err)
	}
	var rows []*types.TransferRecord
	err = s.db.SelectContext(ctx, &rows,
		`SELECT chain_id, wallet, token_address, tx_hash, log_index, block_number, direction, counterparty, amount::TEXT AS amount, ts
		 FROM wallet_transactions WHERE chain_id = $1 AND wallet = $2
		 ORDER BY block_number DESC, log_index DESC LIMIT $3 OFFSET $4`,
		chainId, wallet, limit, (page-1)*limit)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select transfers: %v", err)
	}
	return &types.TransferPage{
		Transfers:   rows,
		Total:       total,
		Page:        page,
		Limit:       limit,
		HasNextPage: page*limit < total,
	}, nil
}
