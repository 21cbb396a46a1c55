package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/db"
	"github.com/tokenscopelabs/tokenscope/types"
)

// TokensByAddress returns the known metadata rows among addrs.
func (s *Store) TokensByAddress(ctx context.Context, chainId types.ChainId, addrs []types.Address) (map[types.Address]*types.TokenMeta, error) {
	if len(addrs) == 0 {
		return map[types.Address]*types.TokenMeta{}, nil
	}
	plain := make([]string, len(addrs))
	for i, a := range addrs {
		plain[i] = string(a)
	}
	var rows []*types.TokenMeta
	err := s.db.SelectContext(ctx, &rows,
		`SELECT chain_id, address, symbol, name, decimals, logo, verified, possible_spam, created_at, updated_at
		 FROM token_details WHERE chain_id = $1 AND address = ANY($2)`,
		chainId, pq.Array(plain))
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select tokens: %v", err)
	}
	out := make(map[types.Address]*types.TokenMeta, len(rows))
	for _, row := range rows {
		out[row.Address] = row
	}
	return out, nil
}

// SearchTokens pages through token metadata matching the query.
func (s *Store) SearchTokens(ctx context.Context, q db.TokenQuery) (*types.TokenPage, error) {
	where := "WHERE chain_id = $1"
	args := []interface{}{q.ChainId}
	if q.Search != "" {
		if addr, err := types.NormalizeAddress(q.Search); err == nil {
			args = append(args, string(addr))
			where += fmt.Sprintf(" AND address = $%d", len(args))
		} else {
			args = append(args, "%"+strings.ToLower(q.Search)+"%")
			where += fmt.Sprintf(" AND (lower(symbol) LIKE $%d OR lower(name) LIKE $%d)", len(args), len(args))
		}
	}
	if q.Verified != nil {
		args = append(args, *q.Verified)
		where += fmt.Sprintf(" AND verified = $%d", len(args))
	}
	if q.Spam != nil {
		args = append(args, *q.Spam)
		where += fmt.Sprintf(" AND possible_spam = $%d", len(args))
	}

	var total int
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM token_details "+where, args...); err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "count tokens: %v", err)
	}

	args = append(args, q.Limit, (q.Page-1)*q.Limit)
	query := fmt.Sprintf(
		`SELECT chain_id, address, symbol, name, decimals, logo, verified, possible_spam, created_at, updated_at
		 FROM token_details %s ORDER BY verified DESC, symbol ASC, address ASC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))
	var rows []*types.TokenMeta
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select tokens: %v", err)
	}
	return &types.TokenPage{
		Tokens:      rows,
		Total:       total,
		Page:        q.Page,
		Limit:       q.Limit,
		HasNextPage: q.Page*q.Limit < total,
	}, nil
}

// VerifiedTokenAddresses lists the addresses swept during discovery phase 1.
func (s *Store) VerifiedTokenAddresses(ctx context.Context, chainId types.ChainId) ([]types.Address, error) {
	var plain []string
	err := s.db.SelectContext(ctx, &plain,
		`SELECT address FROM token_details WHERE chain_id = $1 AND verified = TRUE ORDER BY address`,
		chainId)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDatabase, "select verified tokens: %v", err)
	}
	out := make([]types.Address, len(plain))
	for i, a := range plain {
		out[i] = types.Address(a)
	}
	return out, nil
}

// UpsertToken inserts new metadata or refreshes the chain-derived fields of
// an existing row. Verification and spam flags set by earlier writes survive
// a rediscovery.
func (s *Store) UpsertToken(ctx context.Context, meta *types.TokenMeta) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO token_details (chain_id, address, symbol, name, decimals, logo, verified, possible_spam)
		 VALUES (:chain_id, :address, :symbol, :name, :decimals, :logo, :verified, :possible_spam)
		 ON CONFLICT (chain_id, address) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			name = EXCLUDED.name,
			decimals = EXCLUDED.decimals,
			updated_at = now()`,
		meta)
	if err != nil {
		return errors.Wrapf(types.ErrDatabase, "upsert token %s: %v", meta.Address, err)
	}
	return nil
}
