// Package database owns the durable stores for trade signals, conditional
// triggers and daily trigger statistics. All signal and trigger mutation
// goes through Repository; state transitions are guarded at the SQL level
// so they apply exactly once under concurrent passes.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Signals table with breakeven and hypothetical tracking columns
		`CREATE TABLE IF NOT EXISTS signals (
			id BIGSERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(40) NOT NULL,
			decision VARCHAR(4) NOT NULL,
			confidence VARCHAR(10) NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			original_stop_loss DOUBLE PRECISION NOT NULL,
			current_stop_loss DOUBLE PRECISION NOT NULL,
			take_profit DOUBLE PRECISION NOT NULL,
			risk_reward VARCHAR(20),
			reasoning TEXT,
			market_structure TEXT,
			invalidation_criteria TEXT,
			notes TEXT,
			status VARCHAR(10) NOT NULL DEFAULT 'ACTIVE',
			result VARCHAR(10),
			exit_price DOUBLE PRECISION,
			exit_timestamp TIMESTAMPTZ,
			pnl_pips DOUBLE PRECISION,
			duration_minutes INTEGER,
			breakeven_triggered BOOLEAN NOT NULL DEFAULT FALSE,
			breakeven_timestamp TIMESTAMPTZ,
			stop_modifications JSONB,
			hypothetical_exit_price DOUBLE PRECISION,
			hypothetical_result VARCHAR(10),
			hypothetical_pnl_pips DOUBLE PRECISION,
			breakeven_impact VARCHAR(20),
			screenshot_path TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status_symbol ON signals(status, symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		// Triggers table
		`CREATE TABLE IF NOT EXISTS triggers (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			trigger_json JSONB NOT NULL,
			context_json JSONB,
			playbook VARCHAR(100),
			setup_type VARCHAR(40),
			expiry_ts TIMESTAMPTZ NOT NULL,
			status VARCHAR(10) NOT NULL DEFAULT 'PENDING',
			consumed_at TIMESTAMPTZ,
			result VARCHAR(10),
			fire_reason TEXT,
			CHECK (status IN ('PENDING', 'CONSUMED', 'EXPIRED', 'SUPERSEDED', 'CLEARED'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_triggers_status_symbol ON triggers(status, symbol)`,

		// Daily trigger statistics
		`CREATE TABLE IF NOT EXISTS trigger_stats (
			date DATE PRIMARY KEY,
			created INTEGER NOT NULL DEFAULT 0,
			fired INTEGER NOT NULL DEFAULT 0,
			expired INTEGER NOT NULL DEFAULT 0,
			converted INTEGER NOT NULL DEFAULT 0
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}
