// Package postgres owns the lib/pq connection pool behind the postgres
// record store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/metadata-search/pkg/resilience"
	"github.com/lib/pq"
)

const (
	pingTimeout = 5 * time.Second

	// SQLSTATE classes that a fresh transaction can clear.
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

type Client struct {
	DB *sql.DB
}

// New opens a pool sized by cfg and checks that the server answers.
func New(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres %s/%s: %w", cfg.Host, cfg.Database, err)
	}
	return &Client{DB: db}, nil
}

// Migrate runs the given DDL statements in order inside one transaction.
func (c *Client) Migrate(ctx context.Context, statements ...string) error {
	return c.InTx(ctx, func(tx *sql.Tx) error {
		for i, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// InTx runs fn in a serializable transaction. A serialization failure or a
// deadlock reruns fn in a new transaction; any other error rolls back and
// is returned as is.
func (c *Client) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return resilience.Retry(ctx, "postgres transaction", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		err := c.runTx(ctx, fn)
		if err == nil || Retryable(err) {
			return err
		}
		return resilience.Permanent(err)
	})
}

func (c *Client) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Retryable reports whether err is a postgres conflict that a new
// transaction may not hit.
func Retryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch string(pqErr.Code) {
	case serializationFailure, deadlockDetected:
		return true
	}
	return false
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}
