package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate applies the idempotent schema. Run at startup; safe to re-run.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workouts (
    user_id          TEXT NOT NULL,
    workout_id       TEXT NOT NULL,
    day              DATE NOT NULL,
    started_at       TIMESTAMPTZ NOT NULL,
    ended_at         TIMESTAMPTZ NOT NULL,
    duration_s       INTEGER NOT NULL CHECK (duration_s > 0),
    distance_m       DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (distance_m >= 0),
    pace_s_per_km    DOUBLE PRECISION,
    avg_heart_rate   DOUBLE PRECISION,
    max_heart_rate   DOUBLE PRECISION,
    energy_kcal      DOUBLE PRECISION,
    elevation_gain_m DOUBLE PRECISION,
    source           TEXT NOT NULL,
    raw_payload      JSONB,
    created_at       TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, workout_id)
);
CREATE INDEX IF NOT EXISTS idx_workouts_user_day ON workouts (user_id, day);
CREATE INDEX IF NOT EXISTS idx_workouts_user_started ON workouts (user_id, started_at);

CREATE TABLE IF NOT EXISTS daily_aggregates (
    user_id               TEXT NOT NULL,
    day                   DATE NOT NULL,
    run_count             INTEGER NOT NULL,
    total_distance_m      DOUBLE PRECISION NOT NULL,
    total_duration_s      BIGINT NOT NULL,
    longest_run_m         DOUBLE PRECISION NOT NULL,
    fastest_pace_s_per_km DOUBLE PRECISION,
    updated_at            TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
    user_id      TEXT PRIMARY KEY,
    position     TIMESTAMPTZ NOT NULL DEFAULT 'epoch',
    last_sync_at TIMESTAMPTZ,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sync_batches (
    user_id         TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    sync_id         UUID NOT NULL,
    manifest        JSONB NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS webhook_tokens (
    token      TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscribers (
    subscriber_id        UUID PRIMARY KEY,
    url                  TEXT NOT NULL,
    secret               TEXT NOT NULL,
    events               TEXT[] NOT NULL,
    max_retries          INTEGER NOT NULL DEFAULT 5,
    timeout_ms           INTEGER NOT NULL DEFAULT 10000,
    active               BOOLEAN NOT NULL DEFAULT TRUE,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS delivery_events (
    event_id   UUID PRIMARY KEY,
    user_id    TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deliveries (
    delivery_id   BIGSERIAL PRIMARY KEY,
    event_id      UUID NOT NULL REFERENCES delivery_events(event_id),
    subscriber_id UUID NOT NULL REFERENCES subscribers(subscriber_id),
    event_type    TEXT NOT NULL,
    payload       JSONB NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    next_retry_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_status   INTEGER,
    last_response TEXT,
    claimed_at    TIMESTAMPTZ,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (event_id, subscriber_id)
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries (status, next_retry_at);

CREATE TABLE IF NOT EXISTS outbox (
    event_id       BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id   TEXT NOT NULL,
    event_type     TEXT NOT NULL,
    topic          TEXT NOT NULL,
    schema_subject TEXT NOT NULL,
    partition_key  TEXT NOT NULL,
    payload        JSONB NOT NULL,
    dedupe_key     TEXT UNIQUE,
    claimed_at     TIMESTAMPTZ,
    published_at   TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
