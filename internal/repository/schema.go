package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailsweep/pkg/metrics"
	"mailsweep/pkg/outbox"
)

const schema = `
CREATE TABLE IF NOT EXISTS undo_records (
    message_id      TEXT PRIMARY KEY,
    sender          TEXT NOT NULL DEFAULT '',
    subject         TEXT NOT NULL DEFAULT '',
    deleted_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL,
    original_labels TEXT[] NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS undo_records_expires_at ON undo_records (expires_at);

CREATE TABLE IF NOT EXISTS cleanup_rules (
    id               BIGSERIAL PRIMARY KEY,
    name             TEXT NOT NULL UNIQUE,
    enabled          BOOLEAN NOT NULL DEFAULT TRUE,
    criteria         JSONB NOT NULL,
    schedule_cron    TEXT NOT NULL DEFAULT '',
    schedule_seconds BIGINT NOT NULL DEFAULT 0,
    description      TEXT NOT NULL DEFAULT '',
    last_run         TIMESTAMPTZ,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sender_stats (
    email            TEXT PRIMARY KEY,
    domain           TEXT NOT NULL,
    total_count      INTEGER NOT NULL,
    unread_count     INTEGER NOT NULL,
    starred_count    INTEGER NOT NULL,
    important_count  INTEGER NOT NULL,
    attachment_count INTEGER NOT NULL,
    total_size       BIGINT NOT NULL,
    oldest           TIMESTAMPTZ,
    newest           TIMESTAMPTZ,
    spam_score       DOUBLE PRECISION NOT NULL,
    is_newsletter    BOOLEAN NOT NULL,
    is_automated     BOOLEAN NOT NULL,
    has_unsubscribe  BOOLEAN NOT NULL,
    unsubscribe_url  TEXT NOT NULL DEFAULT '',
    analyzed_at      TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the tables the repositories use. It is idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if _, err := db.Exec(ctx, outbox.Schema); err != nil {
		return fmt.Errorf("migrate outbox: %w", err)
	}
	return nil
}

func observe(op, table string, start time.Time) {
	metrics.RecordDBQueryDuration(op, table, time.Since(start))
}
