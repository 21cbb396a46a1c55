package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

type trackedRow struct {
	Wallet    string        `db:"wallet"`
	Chains    pq.Int64Array `db:"chains"`
	FirstSeen time.Time     `db:"first_seen"`
	LastSeen  time.Time     `db:"last_seen"`
	Active    bool          `db:"active"`
}

func (r trackedRow) toWallet() *types.TrackedWallet {
	chains := make([]types.ChainId, len(r.Chains))
	for i, c := range r.Chains {
		chains[i] = types.ChainId(c)
	}
	return &types.TrackedWallet{
		Wallet:    types.Address(r.Wallet),
		Chains:    chains,
		FirstSeen: r.FirstSeen,
		LastSeen:  r.LastSeen,
		Active:    r.Active,
	}
}

// UpsertTrackedWallet registers a wallet, unioning chain sets when it already
// exists and reactivating it if it was removed.
func (s *Store) UpsertTrackedWallet(ctx context.Context, wallet types.Address, chains []types.ChainId) (*types.TrackedWallet, error) {
	ids := make(pq.Int64Array, len(chains))
	for i, c := range chains {
		ids[i] = int64(c)
	}
	var row trackedRow
	err := s.db.GetContext(ctx, &row,
		`INSERT INTO tracked_wallets (wallet, chains, first_seen, last_seen, active)
		 VALUES ($1, $2, now(), now(), TRUE)
		 ON CONFLICT (wallet) DO UPDATE SET
			chains = ARRAY(SELECT DISTINCT c FROM unnest(tracked_wallets.chains || EXCLUDED.chains) AS c ORDER BY c),
			last_seen = now(),
			active = TRUE
		 RETURNING wallet, chains, first_seen, last_seen, active`,
		wallet, ids)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "upsert tracked wallet: %v", err)
	}
	return row.toWallet(), nil
}

// DeactivateTrackedWallet flips active off, keeping the row for history.
func (s *Store) DeactivateTrackedWallet(ctx context.Context, wallet types.Address) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_wallets SET active = FALSE, last_seen = now() WHERE wallet = $1 AND active = TRUE`,
		wallet)
	if err != nil {
		return errors.Wrapf(types.ErrDatabase, "deactivate tracked wallet: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(types.ErrDatabase, "rows affected: %v", err)
	}
	if n == 0 {
		return errors.Wrapf(types.ErrNotTracked, "wallet %s", wallet)
	}
	return nil
}

// TrackedWallets lists active registrations.
func (s *Store) TrackedWallets(ctx context.Context) ([]*types.TrackedWallet, error) {
	var rows []trackedRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT wallet, chains, first_seen, last_seen, active
		 FROM tracked_wallets WHERE active = TRUE ORDER BY wallet`)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select tracked wallets: %v", err)
	}
	out := make([]*types.TrackedWallet, len(rows))
	for i, row := range rows {
		out[i] = row.toWallet()
	}
	return out, nil
}
