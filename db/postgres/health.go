package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// SaveProviderHealth persists the pool's view of its endpoints. Written by
// the health probe on a best-effort basis.
func (s *Store) SaveProviderHealth(ctx context.Context, records []*types.ProviderHealth) error {
	if len(records) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, rec := range records {
			_, err := tx.NamedExecContext(ctx,
				`INSERT INTO rpc_provider_health (chain_id, url, healthy, last_check, response_time_ms, error_count)
				 VALUES (:chain_id, :url, :healthy, :last_check, :response_time_ms, :error_count)
				 ON CONFLICT (chain_id, url) DO UPDATE SET
					healthy = EXCLUDED.healthy,
					last_check = EXCLUDED.last_check,
					response_time_ms = EXCLUDED.response_time_ms,
					error_count = EXCLUDED.error_count`,
				rec)
			if err != nil {
				return errors.Wrapf(types.ErrDatabase, "upsert provider health: %v", err)
			}
		}
		return nil
	})
}

// ProviderHealth lists the last persisted endpoint states for all chains.
func (s *Store) ProviderHealth(ctx context.Context) ([]*types.ProviderHealth, error) {
	var rows []*types.ProviderHealth
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chain_id, url, healthy, last_check, response_time_ms, error_count
		 FROM rpc_provider_health ORDER BY chain_id, url`)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select provider health: %v", err)
	}
	return rows, nil
}
