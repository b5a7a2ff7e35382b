// Package postgres implements the store contracts on pgx. Schema changes go
// through embedded golang-migrate migrations applied on connect.
package postgres

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql (migrations)

	"github.com/foresight-labs/foresight/pkg/store"
)

//go:embed migrations
var migrationsFS embed.FS

// Client owns the connection pool and the wired repositories.
type Client struct {
	pool  *pgxpool.Pool
	store *store.Store
}

// Connect opens a pool, applies pending migrations, and wires the
// repositories.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Client{
		pool: pool,
		store: &store.Store{
			Targets:         &targetRepo{pool: pool},
			Articles:        &articleRepo{pool: pool},
			Signals:         &signalRepo{pool: pool},
			Subscriptions:   &subscriptionRepo{pool: pool},
			Predictors:      &predictorRepo{pool: pool},
			Predictions:     &predictionRepo{pool: pool},
			Snapshots:       &snapshotRepo{pool: pool},
			Analysts:        &analystRepo{pool: pool},
			ContextVersions: &contextVersionRepo{pool: pool},
			Learnings:       &learningRepo{pool: pool},
			TargetSnapshots: &targetSnapshotRepo{pool: pool},
			Usage:           &usageRepo{pool: pool},
		},
	}, nil
}

// Store returns the wired repositories.
func (c *Client) Store() *store.Store { return c.store }

// Pool returns the underlying pool for health checks.
func (c *Client) Pool() *pgxpool.Pool { return c.pool }

// Close releases the connection pool.
func (c *Client) Close() { c.pool.Close() }

// runMigrations applies all pending embedded migrations over a dedicated
// database/sql connection; golang-migrate closes it when done.
func runMigrations(dsn string) error {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		_, _ = m.Close()
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return fmt.Errorf("failed to close migration source: %w", srcErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close migration connection: %w", dbErr)
	}
	return nil
}

// uniqueViolation reports whether err is a Postgres unique-constraint
// violation, optionally on a specific constraint.
func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// marshalNullable renders an optional struct as JSONB, NULL when absent.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// unmarshalNullable parses an optional JSONB column.
func unmarshalNullable[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
