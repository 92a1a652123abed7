package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

// Open открывает пул соединений и проверяет доступность базы.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Schema — таблицы реестра доверия и журнала действий. Журнал только дописывается.
const Schema = `
CREATE TABLE IF NOT EXISTS trust_records (
	principal_id  TEXT PRIMARY KEY,
	total_score   BIGINT      NOT NULL DEFAULT 0,
	level         INT         NOT NULL DEFAULT 1,
	badges        JSONB       NOT NULL DEFAULT '[]',
	recent_events JSONB       NOT NULL DEFAULT '[]',
	event_counts  JSONB       NOT NULL DEFAULT '{}',
	applied_ids   JSONB       NOT NULL DEFAULT '[]',
	frozen        BOOLEAN     NOT NULL DEFAULT FALSE,
	freeze_reason TEXT        NOT NULL DEFAULT '',
	frozen_at     TIMESTAMPTZ,
	reviewed      BIGINT      NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
ALTER TABLE trust_records ADD COLUMN IF NOT EXISTS reviewed BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS trust_records_frozen_idx ON trust_records (principal_id) WHERE frozen;

CREATE TABLE IF NOT EXISTS action_records (
	id           UUID PRIMARY KEY,
	trace_id     TEXT        NOT NULL DEFAULT '',
	request_id   TEXT        NOT NULL DEFAULT '',
	actor_id     TEXT        NOT NULL,
	principal_id TEXT        NOT NULL DEFAULT '',
	action       TEXT        NOT NULL,
	params       JSONB,
	counterpart  TEXT        NOT NULL DEFAULT '',
	priority     TEXT        NOT NULL DEFAULT '',
	success      BOOLEAN     NOT NULL,
	error        TEXT        NOT NULL DEFAULT '',
	error_kind   TEXT        NOT NULL DEFAULT '',
	duration_ms  BIGINT      NOT NULL DEFAULT 0,
	timestamp    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS action_records_actor_idx ON action_records (actor_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS action_records_principal_idx ON action_records (principal_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS action_records_request_idx ON action_records (request_id) WHERE request_id <> '';
`

// Migrate создает схему, если ее еще нет.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}
