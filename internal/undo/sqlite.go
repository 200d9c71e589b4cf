package undo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mailsweep/internal/model"
)

// SQLiteStore is the single-user Store used by the CLI.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the ledger database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; sweeper and executor share the handle
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS undo_records (
	message_id      TEXT PRIMARY KEY,
	sender          TEXT NOT NULL DEFAULT '',
	subject         TEXT NOT NULL DEFAULT '',
	deleted_at      INTEGER NOT NULL,
	expires_at      INTEGER NOT NULL,
	original_labels TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS undo_records_expires_at ON undo_records (expires_at);
`

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Put(ctx context.Context, recs []model.UndoRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO undo_records (message_id, sender, subject, deleted_at, expires_at, original_labels)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			sender          = excluded.sender,
			subject         = excluded.subject,
			deleted_at      = excluded.deleted_at,
			expires_at      = excluded.expires_at,
			original_labels = excluded.original_labels
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		labels, err := json.Marshal(nonNil(r.OriginalLabels))
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, r.MessageID, r.Sender, r.Subject,
			r.DeletedAt.UnixNano(), r.ExpiresAt.UnixNano(), string(labels)); err != nil {
			return fmt.Errorf("insert undo record %s: %w", r.MessageID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, ids []string) (map[string]model.UndoRecord, error) {
	out := make(map[string]model.UndoRecord, len(ids))
	for _, chunk := range chunkIDs(ids, 500) {
		q := `SELECT message_id, sender, subject, deleted_at, expires_at, original_labels
			FROM undo_records WHERE message_id IN (` + placeholders(len(chunk)) + `)`
		rows, err := s.db.QueryContext(ctx, q, anySlice(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var (
				r                model.UndoRecord
				deleted, expires int64
				labels           string
			)
			if err := rows.Scan(&r.MessageID, &r.Sender, &r.Subject, &deleted, &expires, &labels); err != nil {
				rows.Close()
				return nil, err
			}
			r.DeletedAt = time.Unix(0, deleted).UTC()
			r.ExpiresAt = time.Unix(0, expires).UTC()
			if err := json.Unmarshal([]byte(labels), &r.OriginalLabels); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode labels of %s: %w", r.MessageID, err)
			}
			out[r.MessageID] = r
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	for _, chunk := range chunkIDs(ids, 500) {
		q := `DELETE FROM undo_records WHERE message_id IN (` + placeholders(len(chunk)) + `)`
		if _, err := s.db.ExecContext(ctx, q, anySlice(chunk)...); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM undo_records WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM undo_records`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CountSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM undo_records WHERE deleted_at >= ?`, since.UnixNano()).Scan(&n)
	return n, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func chunkIDs(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > 0 {
		n := min(size, len(ids))
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
