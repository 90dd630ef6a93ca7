// Package database provides PostgreSQL connection management using pgx.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates and validates a pgxpool connection pool for the given
// DSN. It retries up to 5 times to accommodate containers starting up.
func NewPool(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	// Sensible pool defaults for a small service.
	poolCfg.MaxConns = 20
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	var pool *pgxpool.Pool
	for attempt := 1; attempt <= 5; attempt++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			pingErr := pool.Ping(ctx)
			if pingErr == nil {
				break
			}
			pool.Close()
			err = pingErr
		}
		logger.Warn("db connect failed, retrying in 2s", "attempt", attempt, "error", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	return pool, nil
}

// schema is applied idempotently at startup. The CHECK constraints are a
// last line of defense behind the ledger; the unique index backs the
// one-row-per-(event, participant) rule.
const schema = `
CREATE TABLE IF NOT EXISTS events (
	id                    TEXT PRIMARY KEY,
	name                  TEXT NOT NULL,
	description           TEXT NOT NULL DEFAULT '',
	max_participants      INT,
	current_participants  INT NOT NULL DEFAULT 0,
	registration_open     BOOLEAN NOT NULL DEFAULT TRUE,
	registration_deadline TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL,
	CHECK (current_participants >= 0),
	CHECK (max_participants IS NULL OR max_participants > 0)
);

CREATE TABLE IF NOT EXISTS participations (
	id                TEXT PRIMARY KEY,
	event_id          TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	participant_id    TEXT NOT NULL,
	attendance_status TEXT NOT NULL,
	participant_data  JSONB,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	UNIQUE (event_id, participant_id)
);

CREATE INDEX IF NOT EXISTS idx_participations_event
	ON participations (event_id, attendance_status);
`

// EnsureSchema creates the tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
