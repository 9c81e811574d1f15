package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the hookrelay store (SQLite).
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
    max_attempts     INTEGER NOT NULL DEFAULT 0,
    initial_delay_ms INTEGER NOT NULL DEFAULT 0,
    timeout_ms       INTEGER NOT NULL DEFAULT 0,
    rate_limit       INTEGER NOT NULL DEFAULT 0,
    headers          TEXT NOT NULL DEFAULT '{}',
    active           INTEGER NOT NULL DEFAULT 1,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
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
    schema      TEXT NOT NULL DEFAULT '',
    active      INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
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
    webhook_id      TEXT NOT NULL,
    client_id       TEXT NOT NULL DEFAULT '',
    topic_id        TEXT NOT NULL,
    payload         TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    job_id          TEXT NOT NULL DEFAULT '',
    event_timestamp TEXT NOT NULL,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
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
    event_id              TEXT NOT NULL,
    webhook_id            TEXT NOT NULL,
    job_id                TEXT NOT NULL UNIQUE,
    payload               TEXT NOT NULL DEFAULT '',
    status                TEXT NOT NULL DEFAULT 'pending',
    attempt_count         INTEGER NOT NULL DEFAULT 0,
    max_attempts          INTEGER NOT NULL DEFAULT 0,
    next_retry_at         TEXT,
    last_error            TEXT NOT NULL DEFAULT '',
    last_response         TEXT NOT NULL DEFAULT '',
    initiator_type        TEXT NOT NULL DEFAULT 'system',
    initiator_id          TEXT NOT NULL DEFAULT '',
    completed_at          TEXT,
    permanently_failed_at TEXT,
    created_at            TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at            TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_deliveries_event ON hookrelay_deliveries (event_id, created_at);
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
				// The trigger stamps the delivery inside the INSERT, so a
				// conflicting insert leaves it untouched. A pending delivery
				// becomes failed.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hookrelay_dlq (
    id            TEXT PRIMARY KEY,
    delivery_id   TEXT NOT NULL UNIQUE,
    event_id      TEXT NOT NULL,
    webhook_id    TEXT NOT NULL,
    payload       TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'dlq',
    attempt_count INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT '',
    last_response TEXT NOT NULL DEFAULT '',
    failed_at     TEXT NOT NULL DEFAULT (datetime('now')),
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_event ON hookrelay_dlq (event_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_webhook ON hookrelay_dlq (webhook_id);
CREATE INDEX IF NOT EXISTS idx_hookrelay_dlq_failed ON hookrelay_dlq (failed_at);

CREATE TRIGGER IF NOT EXISTS trg_hookrelay_dlq_escalate
AFTER INSERT ON hookrelay_dlq
BEGIN
    UPDATE hookrelay_deliveries
    SET permanently_failed_at = NEW.failed_at, updated_at = NEW.failed_at,
        status = CASE WHEN status = 'pending' THEN 'failed' ELSE status END
    WHERE id = NEW.delivery_id;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS trg_hookrelay_dlq_escalate;
DROP TABLE IF EXISTS hookrelay_dlq;
`)
				return err
			},
		},
	)
}
