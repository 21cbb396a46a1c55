package postgres

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tokenscopelabs/tokenscope/types"
)

// schema is applied on startup. Statements are idempotent so restarting
// against an initialized database is safe.
const schema = `
CREATE TABLE IF NOT EXISTS token_details (
	chain_id      BIGINT NOT NULL,
	address       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	decimals      SMALLINT NOT NULL DEFAULT 18,
	logo          TEXT NOT NULL DEFAULT '',
	verified      BOOLEAN NOT NULL DEFAULT FALSE,
	possible_spam BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, address)
);
CREATE INDEX IF NOT EXISTS idx_token_details_verified ON token_details (chain_id, verified);
CREATE INDEX IF NOT EXISTS idx_token_details_symbol ON token_details (chain_id, lower(symbol));

CREATE TABLE IF NOT EXISTS wallet_cache (
	chain_id     BIGINT NOT NULL,
	wallet       TEXT NOT NULL,
	data         JSONB NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	syncing      BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (chain_id, wallet)
);
CREATE INDEX IF NOT EXISTS idx_wallet_cache_last_updated ON wallet_cache (last_updated);
CREATE INDEX IF NOT EXISTS idx_wallet_cache_expires_at ON wallet_cache (expires_at);
CREATE INDEX IF NOT EXISTS idx_wallet_cache_syncing ON wallet_cache (syncing);

CREATE TABLE IF NOT EXISTS tracked_wallets (
	wallet     TEXT PRIMARY KEY,
	chains     BIGINT[] NOT NULL,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen  TIMESTAMPTZ NOT NULL DEFAULT now(),
	active     BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS block_sync_status (
	chain_id     BIGINT PRIMARY KEY,
	latest_block BIGINT NOT NULL DEFAULT 0,
	synced_block BIGINT NOT NULL DEFAULT 0,
	last_sync    TIMESTAMPTZ NOT NULL DEFAULT now(),
	status       TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS wallet_transactions (
	id            BIGSERIAL PRIMARY KEY,
	chain_id      BIGINT NOT NULL,
	wallet        TEXT NOT NULL,
	token_address TEXT NOT NULL,
	tx_hash       TEXT NOT NULL,
	log_index     BIGINT NOT NULL,
	block_number  BIGINT NOT NULL,
	direction     TEXT NOT NULL,
	counterparty  TEXT NOT NULL DEFAULT '',
	amount        NUMERIC NOT NULL DEFAULT 0,
	ts            TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain_id, tx_hash, log_index, wallet)
);
CREATE INDEX IF NOT EXISTS idx_wallet_transactions_wallet ON wallet_transactions (chain_id, wallet, block_number DESC);

CREATE TABLE IF NOT EXISTS rpc_provider_health (
	chain_id         BIGINT NOT NULL,
	url              TEXT NOT NULL,
	healthy          BOOLEAN NOT NULL DEFAULT TRUE,
	last_check       TIMESTAMPTZ NOT NULL DEFAULT now(),
	response_time_ms BIGINT NOT NULL DEFAULT 0,
	error_count      BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (chain_id, url)
);
`

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrapf(types.ErrDatabase, "apply schema: %v", err)
	}
	return nil
}
