package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the hookrelay store.
// It can be registered with a grove orchestrator for locking, version
// tracking and rollback support.
var Migrations = migrate.NewGroup("hookrelay")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hookrelay_webhooks",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_webhooks (
    id               TEXT PRIMARY KEY,
    client_id        TEXT NOT NULL DEFAULT '',
    url              TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    secret           TEXT NOT NULL DEFAULT '',
    max_attempts     INT NOT NULL DEFAULT 0,
    initial_delay_ms INT NOT NULL DEFAULT 0,
    timeout_ms       INT NOT NULL DEFAULT 0,
    rate_limit       INT NOT NULL DEFAULT 0,
    headers          JSONB NOT NULL DEFAULT '{}',
    active           BOOLEAN NOT NULL DEFAULT TRUE,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_webhooks_client ON hookrelay_webhooks (client_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_webhooks`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_topics",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_topics (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    schema      JSONB,
    active      BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_topics`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_events",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_events (
    id              TEXT PRIMARY KEY,
    webhook_id      TEXT NOT NULL REFERENCES hookrelay_webhooks (id),
    client_id       TEXT NOT NULL DEFAULT '',
    topic_id        TEXT NOT NULL,
    payload         TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    job_id          TEXT NOT NULL DEFAULT '',
    event_timestamp TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_events_webhook ON hookrelay_events (webhook_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_events_client ON hookrelay_events (client_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_events_created ON hookrelay_events (created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_deliveries",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_deliveries (
    id                    TEXT PRIMARY KEY,
    event_id              TEXT NOT NULL REFERENCES hookrelay_events (id),
    webhook_id            TEXT NOT NULL,
    job_id                TEXT NOT NULL UNIQUE,
    payload               TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'pending',
    attempt_count         INT NOT NULL DEFAULT 0,
    max_attempts          INT NOT NULL DEFAULT 0,
    next_retry_at         TIMESTAMPTZ,
    last_error            JSONB,
    last_response         JSONB,
    initiator_type        TEXT NOT NULL DEFAULT 'system',
    initiator_id          TEXT NOT NULL DEFAULT '',
    completed_at          TIMESTAMPTZ,
    permanently_failed_at TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_deliveries_event ON hookrelay_deliveries (event_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_hookrelay_deliveries_webhook ON hookrelay_deliveries (webhook_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_hookrelay_deliveries_in_flight ON hookrelay_deliveries (event_id) WHERE status = 'pending';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hookrelay_dlq",
			Version: "20250101000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_dlq (
    id            TEXT PRIMARY KEY,
    delivery_id   TEXT NOT NULL UNIQUE REFERENCES hookrelay_deliveries (id),
    event_id      TEXT NOT NULL,
    webhook_id    TEXT NOT NULL,
    payload       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'dlq',
    attempt_count INT NOT NULL DEFAULT 0,
    last_error    JSONB,
    last_response JSONB,
    failed_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_event ON hookrelay_dlq (event_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_webhook ON hookrelay_dlq (webhook_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_failed ON hookrelay_dlq (failed_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hookrelay_dlq`)
				return err
			},
		},
	)
}
