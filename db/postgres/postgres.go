// Package postgres implements the db.Database interface over PostgreSQL
// using sqlx and lib/pq.
package postgres

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tokenscopelabs/tokenscope/types"
)

var log = logrus.WithField("prefix", "postgres")

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultMaxConns         = 20
	DefaultStatementTimeout = 5 * time.Second
	defaultConnMaxLifetime  = 30 * time.Minute
)

// Config holds the connection parameters, typically sourced from PG* env
// variables or flags.
type Config struct {
	Host             string
	Port             int
	User             string
	Password         string
	DBName           string
	SSLMode          string
	MaxConns         int
	StatementTimeout time.Duration
}

// ConnectionString renders the config as a postgres URL. The statement
// timeout rides along as a server runtime parameter so every query on the
// pool inherits it.
func (c Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	timeout := c.StatementTimeout
	if timeout == 0 {
		timeout = DefaultStatementTimeout
	}
	params := url.Values{}
	params.Set("sslmode", sslMode)
	params.Set("statement_timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
	auth := ""
	if c.User != "" && c.Password != "" {
		auth = fmt.Sprintf("%s:%s@", url.QueryEscape(c.User), url.QueryEscape(c.Password))
	} else if c.User != "" {
		auth = fmt.Sprintf("%s@", url.QueryEscape(c.User))
	}
	return fmt.Sprintf("postgresql://%s%s:%d/%s?%s", auth, c.Host, c.Port, c.DBName, params.Encode())
}

// Store implements db.Database over one sqlx connection pool.
type Store struct {
	db *sqlx.DB
}

// New connects, verifies the connection and bootstraps the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = DefaultMaxConns
	}
	database, err := sqlx.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "open postgres connection")
	}
	database.SetMaxOpenConns(maxConns)
	database.SetMaxIdleConns(maxConns / 2)
	database.SetConnMaxLifetime(defaultConnMaxLifetime)
	if err := database.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	s := &Store{db: database}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"database": cfg.DBName,
		"maxConns": maxConns,
	}).Info("Connected to postgres")
	return s, nil
}

// Ping reports connection pool liveness.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrapf(types.ErrDatabase, "ping: %v", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrapf(types.ErrDatabase, "begin tx: %v", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.WithError(rbErr).Error("Could not roll back transaction")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(types.ErrDatabase, "commit tx: %v", err)
	}
	return nil
}
