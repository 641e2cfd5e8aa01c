package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/config"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		cfg.MaxConns, cfg.MinConns,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set connection pool settings
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS generation_runs (
	id           TEXT PRIMARY KEY,
	generated_at TIMESTAMPTZ NOT NULL,
	runnable     INTEGER NOT NULL,
	skipped      INTEGER NOT NULL,
	pending      TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS generated_tests (
	run_id      TEXT NOT NULL REFERENCES generation_runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	classname   TEXT NOT NULL,
	kind        TEXT NOT NULL,
	generator   TEXT NOT NULL,
	protocol    TEXT NOT NULL,
	uri         TEXT NOT NULL DEFAULT '',
	scenario    TEXT NOT NULL DEFAULT '',
	skip        BOOLEAN NOT NULL DEFAULT FALSE,
	skip_reason TEXT NOT NULL DEFAULT '',
	spec        JSONB NOT NULL,
	PRIMARY KEY (run_id, classname)
);

CREATE INDEX IF NOT EXISTS generated_tests_position ON generated_tests (run_id, position);
`

// Migrate creates the tables if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health checks if the database is healthy
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
