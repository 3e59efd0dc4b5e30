package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/therealutkarshpriyadarshi/hlsvault/internal/config"
)

// DB wraps the database connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection
func New(cfg config.DatabaseConfig) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
		cfg.MaxConns, cfg.MinConns,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return Connect(ctx, dsn)
}

// Connect opens a pool from a DSN or URL and verifies it with a ping
func Connect(ctx context.Context, dsn string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	// Set connection pool settings
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

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

// Migrate creates the tables used by the pipeline if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
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

const schema = `
CREATE TABLE IF NOT EXISTS videos (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	storage_path     TEXT NOT NULL DEFAULT '',
	storage_provider TEXT NOT NULL DEFAULT 'local' CHECK (storage_provider IN ('local', 'object')),
	r2_key           TEXT,
	signing_secret   TEXT NOT NULL,
	owner_id         TEXT NOT NULL,
	lesson_id        TEXT,
	"order"          INTEGER NOT NULL DEFAULT 0,
	size_bytes       BIGINT,
	duration_seconds DOUBLE PRECISION,
	status           TEXT NOT NULL DEFAULT 'pending_creation',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_videos_owner ON videos(owner_id);

CREATE TABLE IF NOT EXISTS video_processing_tasks (
	id               TEXT PRIMARY KEY,
	video_id         TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
	user_id          TEXT NOT NULL,
	codec_preference TEXT NOT NULL CHECK (codec_preference IN ('h264', 'h265')),
	resolutions      TEXT[] NOT NULL DEFAULT '{}',
	crf              INTEGER,
	compress         BOOLEAN NOT NULL DEFAULT false,
	status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processing', 'completed', 'failed')),
	error_message    TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_tasks_pending ON video_processing_tasks(created_at, id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_tasks_video ON video_processing_tasks(video_id);

CREATE TABLE IF NOT EXISTS user_permissions (
	user_id    TEXT NOT NULL,
	video_id   TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (user_id, video_id)
);

CREATE INDEX IF NOT EXISTS idx_permissions_video ON user_permissions(video_id);
`
