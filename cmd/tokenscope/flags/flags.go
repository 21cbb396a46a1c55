// Package flags defines the runtime flags specific to the tokenscope node.
package flags

import (
	"github.com/urfave/cli/v2"
)

var (
	// HTTPHost specifies the host on which the API server listens.
	HTTPHost = &cli.StringFlag{
		Name:    "http-host",
		Usage:   "Host on which the JSON API server runs.",
		Value:   "127.0.0.1",
		EnvVars: []string{"HTTP_HOST"},
	}
	// HTTPPort specifies the port on which the API server listens.
	HTTPPort = &cli.IntFlag{
		Name:    "http-port",
		Usage:   "Port on which the JSON API server runs.",
		Value:   8547,
		EnvVars: []string{"HTTP_PORT"},
	}
	// MonitoringPortFlag defines the port used by the monitoring service.
	MonitoringPortFlag = &cli.IntFlag{
		Name:  "monitoring-port",
		Usage: "Port used to listening and respond metrics for prometheus.",
		Value: 9090,
	}
	// CorsOriginsFlag adds accepted cross origin request domains.
	CorsOriginsFlag = &cli.StringFlag{
		Name:    "cors-origins",
		Usage:   "Comma separated list of domains from which to accept cross origin requests.",
		Value:   "*",
		EnvVars: []string{"CORS_ORIGIN"},
	}
	// PgHostFlag defines the postgres server host.
	PgHostFlag = &cli.StringFlag{
		Name:    "pg-host",
		Usage:   "Host of the postgres server.",
		Value:   "localhost",
		EnvVars: []string{"PGHOST"},
	}
	// PgPortFlag defines the postgres server port.
	PgPortFlag = &cli.IntFlag{
		Name:    "pg-port",
		Usage:   "Port of the postgres server.",
		Value:   5432,
		EnvVars: []string{"PGPORT"},
	}
	// PgUserFlag defines the postgres role.
	PgUserFlag = &cli.StringFlag{
		Name:    "pg-user",
		Usage:   "Role used to connect to postgres.",
		Value:   "postgres",
		EnvVars: []string{"PGUSER"},
	}
	// PgPasswordFlag defines the postgres password.
	PgPasswordFlag = &cli.StringFlag{
		Name:    "pg-password",
		Usage:   "Password used to connect to postgres.",
		EnvVars: []string{"PGPASSWORD"},
	}
	// PgDatabaseFlag defines the postgres database name.
	PgDatabaseFlag = &cli.StringFlag{
		Name:    "pg-dbname",
		Usage:   "Name of the postgres database.",
		Value:   "tokenscope",
		EnvVars: []string{"PGDATABASE"},
	}
	// PgMaxConnectionsFlag caps the postgres connection pool.
	PgMaxConnectionsFlag = &cli.IntFlag{
		Name:    "pg-max-connections",
		Usage:   "Maximum number of open connections in the postgres pool.",
		Value:   20,
		EnvVars: []string{"PG_MAX_CONNECTIONS"},
	}
	// EthRpcUrlsFlag provides ethereum mainnet JSON-RPC endpoints.
	EthRpcUrlsFlag = &cli.StringSliceFlag{
		Name:    "eth-rpc-urls",
		Usage:   "Ethereum JSON-RPC provider endpoints. This flag may be used multiple times.",
		EnvVars: []string{"ETH_RPC_URL"},
	}
	// BscRpcUrlsFlag provides BNB chain JSON-RPC endpoints.
	BscRpcUrlsFlag = &cli.StringSliceFlag{
		Name:    "bsc-rpc-urls",
		Usage:   "BNB chain JSON-RPC provider endpoints. This flag may be used multiple times.",
		EnvVars: []string{"BSC_RPC_URL"},
	}
	// BaseRpcUrlsFlag provides Base JSON-RPC endpoints.
	BaseRpcUrlsFlag = &cli.StringSliceFlag{
		Name:    "base-rpc-urls",
		Usage:   "Base JSON-RPC provider endpoints. This flag may be used multiple times.",
		EnvVars: []string{"BASE_RPC_URL"},
	}
	// EthExplorerApiKeyFlag authenticates against the ethereum block explorer.
	EthExplorerApiKeyFlag = &cli.StringFlag{
		Name:    "eth-explorer-api-key",
		Usage:   "API key for the ethereum block explorer transfer index.",
		EnvVars: []string{"ETHERSCAN_API_KEY"},
	}
	// BscExplorerApiKeyFlag authenticates against the BNB chain block explorer.
	BscExplorerApiKeyFlag = &cli.StringFlag{
		Name:    "bsc-explorer-api-key",
		Usage:   "API key for the BNB chain block explorer transfer index.",
		EnvVars: []string{"BSCSCAN_API_KEY"},
	}
	// BaseExplorerApiKeyFlag authenticates against the Base block explorer.
	BaseExplorerApiKeyFlag = &cli.StringFlag{
		Name:    "base-explorer-api-key",
		Usage:   "API key for the Base block explorer transfer index.",
		EnvVars: []string{"BASESCAN_API_KEY"},
	}
	// ChainsConfigFlag overrides built-in chain profiles from a yaml file.
	ChainsConfigFlag = &cli.StringFlag{
		Name:  "chains-config",
		Usage: "The filepath to a yaml file with chain profile overrides.",
	}
	// RpcTimeoutFlag bounds a single provider request.
	RpcTimeoutFlag = &cli.IntFlag{
		Name:    "rpc-timeout",
		Usage:   "Milliseconds to wait for a provider response before failing over.",
		Value:   4000,
		EnvVars: []string{"RPC_TIMEOUT_MS"},
	}
	// RpcJwtSecretFlag signs provider requests with a JWT when set.
	RpcJwtSecretFlag = &cli.StringFlag{
		Name: "rpc-jwt-secret",
		Usage: "Path to a file containing a hex string representing a 32 byte secret " +
			"used for authentication with providers behind a JWT gateway.",
	}
	// CacheTTLFlag defines how long a snapshot is served without a rebuild.
	CacheTTLFlag = &cli.IntFlag{
		Name:    "cache-ttl",
		Usage:   "Seconds a cached snapshot stays fresh.",
		Value:   60,
		EnvVars: []string{"CACHE_TTL_SECONDS"},
	}
	// CleanupIntervalFlag defines the cadence of the cache sweepers.
	CleanupIntervalFlag = &cli.IntFlag{
		Name:    "cleanup-interval",
		Usage:   "Minutes between snapshot cache cleanup sweeps.",
		Value:   10,
		EnvVars: []string{"CLEANUP_INTERVAL_MINUTES"},
	}
	// RefreshIntervalFlag defines the tracked wallet refresh cadence.
	RefreshIntervalFlag = &cli.IntFlag{
		Name:    "refresh-interval",
		Usage:   "Seconds between background refreshes of tracked wallets.",
		Value:   60,
		EnvVars: []string{"BACKGROUND_REFRESH_INTERVAL_SECONDS"},
	}
	// PriceOracleUrlFlag points at the price oracle. Valuations are zero when
	// unset.
	PriceOracleUrlFlag = &cli.StringFlag{
		Name:    "price-oracle-url",
		Usage:   "Base URL of the price oracle. All token valuations are zero when unset.",
		EnvVars: []string{"PRICE_ORACLE_URL"},
	}
	// MaxConcurrentBuildsFlag caps snapshot builds running at once.
	MaxConcurrentBuildsFlag = &cli.IntFlag{
		Name:  "max-concurrent-builds",
		Usage: "Maximum number of snapshot builds running concurrently.",
		Value: 100,
	}
)
