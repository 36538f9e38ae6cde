package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are applied in order and recorded in schema_migrations.
var migrations = []struct {
	Version string
	SQL     string
}{
	{
		Version: "000001_create_images",
		SQL: `
			CREATE TABLE IF NOT EXISTS images (
				id                UUID         PRIMARY KEY,
				original_name     TEXT         NOT NULL,
				stored_name       VARCHAR(64)  NOT NULL UNIQUE,
				mime_type         VARCHAR(64)  NOT NULL,
				size              BIGINT       NOT NULL CHECK (size > 0),
				width             INTEGER      NOT NULL,
				height            INTEGER      NOT NULL,
				original_path     VARCHAR(255) NOT NULL,
				thumbnail_path    VARCHAR(255) NOT NULL,
				medium_path       VARCHAR(255) NOT NULL,
				thumbnail_width   INTEGER      NOT NULL,
				thumbnail_height  INTEGER      NOT NULL,
				medium_width      INTEGER      NOT NULL,
				medium_height     INTEGER      NOT NULL,
				delete_token_hash VARCHAR(72)  NOT NULL,
				view_count        BIGINT       NOT NULL DEFAULT 0,
				download_count    BIGINT       NOT NULL DEFAULT 0,
				created_at        TIMESTAMPTZ  NOT NULL DEFAULT NOW(),
				expires_at        TIMESTAMPTZ
			);
			CREATE INDEX IF NOT EXISTS idx_images_created_at ON images(created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_images_expires_at ON images(expires_at) WHERE expires_at IS NOT NULL;
		`,
	},
	{
		Version: "000002_create_daily_stats",
		SQL: `
			CREATE TABLE IF NOT EXISTS daily_stats (
				day           DATE   PRIMARY KEY,
				total_uploads BIGINT NOT NULL DEFAULT 0,
				total_size    BIGINT NOT NULL DEFAULT 0,
				total_views   BIGINT NOT NULL DEFAULT 0
			);
		`,
	},
	{
		Version: "000003_create_rate_limits",
		SQL: `
			CREATE TABLE IF NOT EXISTS rate_limits (
				client_id     VARCHAR(255) PRIMARY KEY,
				request_count INTEGER      NOT NULL,
				window_start  TIMESTAMPTZ  NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_rate_limits_window_start ON rate_limits(window_start);
		`,
	},
}

// DB wraps a pgxpool connection pool and provides health checks and migrations.
type DB struct {
	Pool *pgxpool.Pool
}

// New connects and pings the database.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database", "max_conns", config.MaxConns)
	return &DB{Pool: pool}, nil
}

// RunMigrations applies every migration not yet recorded, each in its own
// transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range migrations {
		if err := db.applyMigration(ctx, m.Version, m.SQL); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) applyMigration(ctx context.Context, version, sql string) error {
	var applied bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&applied)
	if err != nil {
		return fmt.Errorf("failed to check migration status for %s: %w", version, err)
	}
	if applied {
		return nil
	}

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, sql); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", version, err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", version, err)
	}

	slog.Info("applied migration", "version", version)
	return nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
