// Package storage is the typed PostgreSQL access layer. Every table the
// bot owns is defined here; callers depend on narrow interfaces declared
// in their own packages and this concrete type satisfies all of them.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Postgres is the production storage backed by PostgreSQL.
type Postgres struct {
	db     *sql.DB
	logger *zap.Logger
}

// Config holds PostgreSQL configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// New opens a connection pool and verifies connectivity.
func New(cfg *Config) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cfg.Logger.Info("postgres-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return &Postgres{
		db:     db,
		logger: cfg.Logger,
	}, nil
}

// EnsureSchema creates all tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	p.logger.Info("schema-ensured")
	return nil
}

// Close closes the database connection.
func (p *Postgres) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	venue TEXT NOT NULL,
	range_name TEXT NOT NULL,
	range_min DOUBLE PRECISION,
	range_max DOUBLE PRECISION,
	range_type TEXT NOT NULL,
	range_unit TEXT NOT NULL,
	side TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'open',
	entry_ask DOUBLE PRECISION NOT NULL,
	entry_bid DOUBLE PRECISION NOT NULL,
	entry_spread DOUBLE PRECISION NOT NULL,
	entry_volume DOUBLE PRECISION NOT NULL,
	shares INTEGER NOT NULL,
	cost DOUBLE PRECISION NOT NULL,
	entry_probability DOUBLE PRECISION NOT NULL,
	entry_edge_pct DOUBLE PRECISION NOT NULL,
	entry_kelly DOUBLE PRECISION NOT NULL,
	entry_forecast_temp DOUBLE PRECISION NOT NULL,
	entry_forecast_confidence TEXT NOT NULL DEFAULT '',
	entry_ensemble JSONB NOT NULL DEFAULT '{}',
	pct_of_volume DOUBLE PRECISION NOT NULL,
	hours_to_resolution DOUBLE PRECISION NOT NULL,
	entry_reason TEXT NOT NULL,
	wu_triggered BOOLEAN NOT NULL DEFAULT FALSE,
	dual_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	observation_high DOUBLE PRECISION,
	wu_high DOUBLE PRECISION,
	entered_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	current_bid DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_ask DOUBLE PRECISION NOT NULL DEFAULT 0,
	current_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
	max_price_seen DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_probability_seen DOUBLE PRECISION NOT NULL DEFAULT 1,
	evaluator_log JSONB NOT NULL DEFAULT '[]',
	exit_reason TEXT NOT NULL DEFAULT '',
	exit_price DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_bid DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_ask DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_spread DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_probability DOUBLE PRECISION NOT NULL DEFAULT 0,
	exit_forecast_temp DOUBLE PRECISION NOT NULL DEFAULT 0,
	exited_at TIMESTAMPTZ,
	actual_temp DOUBLE PRECISION,
	won BOOLEAN,
	pnl DOUBLE PRECISION,
	fees DOUBLE PRECISION,
	resolved_at TIMESTAMPTZ,
	resolution_station TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS trades_open_unique
	ON trades (city, target_date, venue, range_name, side)
	WHERE status = 'open';

CREATE TABLE IF NOT EXISTS opportunities (
	id TEXT PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	venue TEXT NOT NULL,
	range_name TEXT NOT NULL,
	range_min DOUBLE PRECISION,
	range_max DOUBLE PRECISION,
	range_type TEXT NOT NULL,
	range_unit TEXT NOT NULL,
	side TEXT NOT NULL,
	bid DOUBLE PRECISION NOT NULL,
	ask DOUBLE PRECISION NOT NULL,
	spread DOUBLE PRECISION NOT NULL,
	volume DOUBLE PRECISION NOT NULL,
	probability DOUBLE PRECISION NOT NULL,
	edge_pct DOUBLE PRECISION NOT NULL,
	kelly DOUBLE PRECISION NOT NULL,
	forecast_temp DOUBLE PRECISION NOT NULL,
	forecast_std_dev DOUBLE PRECISION NOT NULL,
	confidence TEXT NOT NULL,
	forecast_sources JSONB NOT NULL DEFAULT '{}',
	hours_to_resolution DOUBLE PRECISION NOT NULL,
	lead_time_bucket TEXT NOT NULL,
	price_bucket TEXT NOT NULL,
	accepted BOOLEAN NOT NULL,
	reject_reason TEXT NOT NULL DEFAULT '',
	trade_id BIGINT REFERENCES trades(id),
	actual_temp DOUBLE PRECISION,
	would_have_won BOOLEAN,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS opportunities_unresolved_idx
	ON opportunities (target_date) WHERE actual_temp IS NULL;

CREATE TABLE IF NOT EXISTS metar_observations (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	station_id TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	local_hour INTEGER NOT NULL,
	temp_c DOUBLE PRECISION NOT NULL,
	temp_f DOUBLE PRECISION NOT NULL,
	running_high_c DOUBLE PRECISION NOT NULL,
	running_high_f DOUBLE PRECISION NOT NULL,
	wu_high_f DOUBLE PRECISION,
	wu_high_c DOUBLE PRECISION,
	observation_count INTEGER NOT NULL DEFAULT 1,
	UNIQUE (city, target_date, station_id, observed_at)
);

CREATE TABLE IF NOT EXISTS metar_pending_events (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	venue TEXT NOT NULL,
	range_name TEXT NOT NULL,
	side TEXT NOT NULL,
	metar_high DOUBLE PRECISION NOT NULL,
	wu_high DOUBLE PRECISION,
	metar_gap DOUBLE PRECISION NOT NULL,
	ask_at_detection DOUBLE PRECISION NOT NULL,
	orderbooks JSONB NOT NULL DEFAULT '{}',
	poll_source TEXT NOT NULL,
	wu_triggered BOOLEAN NOT NULL DEFAULT FALSE,
	detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	wu_confirmed_at TIMESTAMPTZ,
	market_repriced_at TIMESTAMPTZ,
	kalshi_market_repriced_at TIMESTAMPTZ,
	UNIQUE (city, target_date, venue, range_name, side)
);

CREATE TABLE IF NOT EXISTS wu_leads_events (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	station_id TEXT NOT NULL,
	wu_high_f DOUBLE PRECISION NOT NULL,
	metar_high_f DOUBLE PRECISION NOT NULL,
	gap_f DOUBLE PRECISION NOT NULL,
	local_hour INTEGER NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	metar_confirmed_at TIMESTAMPTZ,
	UNIQUE (city, target_date, station_id)
);

CREATE TABLE IF NOT EXISTS forecast_accuracy (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	target_date TEXT NOT NULL,
	source TEXT NOT NULL,
	forecast_temp DOUBLE PRECISION NOT NULL,
	actual_temp DOUBLE PRECISION NOT NULL,
	error DOUBLE PRECISION NOT NULL,
	abs_error DOUBLE PRECISION NOT NULL,
	unit TEXT NOT NULL,
	hours_before_resolution DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (city, target_date, source)
);

CREATE TABLE IF NOT EXISTS market_calibration (
	id BIGSERIAL PRIMARY KEY,
	venue TEXT NOT NULL,
	range_type TEXT NOT NULL,
	lead_time_bucket TEXT NOT NULL,
	price_bucket TEXT NOT NULL,
	wins INTEGER NOT NULL,
	n INTEGER NOT NULL,
	empirical_win_rate DOUBLE PRECISION NOT NULL,
	lower_bound DOUBLE PRECISION NOT NULL,
	upper_bound DOUBLE PRECISION NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (venue, range_type, lead_time_bucket, price_bucket)
);

CREATE TABLE IF NOT EXISTS wu_audit (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	station_id TEXT NOT NULL,
	target_date TEXT NOT NULL,
	high_f DOUBLE PRECISION NOT NULL,
	observation_count INTEGER NOT NULL DEFAULT 0,
	source_tag TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (city, station_id, target_date)
);

CREATE TABLE IF NOT EXISTS cli_audit (
	id BIGSERIAL PRIMARY KEY,
	city TEXT NOT NULL,
	station_id TEXT NOT NULL,
	target_date TEXT NOT NULL,
	high_f DOUBLE PRECISION NOT NULL,
	observation_count INTEGER NOT NULL DEFAULT 0,
	source_tag TEXT NOT NULL DEFAULT '',
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (city, station_id, target_date)
);
`
