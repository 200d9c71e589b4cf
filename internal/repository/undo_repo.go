package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsweep/internal/model"
	"mailsweep/internal/undo"
)

// UndoRepository is the Postgres undo.Store used by the server.
type UndoRepository struct {
	db *pgxpool.Pool
}

var _ undo.Store = (*UndoRepository)(nil)

func NewUndoRepository(db *pgxpool.Pool) *UndoRepository {
	return &UndoRepository{db: db}
}

// Put upserts records in one round trip.
func (r *UndoRepository) Put(ctx context.Context, recs []model.UndoRecord) error {
	if len(recs) == 0 {
		return nil
	}
	defer observe("upsert", "undo_records", time.Now())
	query := `
        INSERT INTO undo_records (message_id, sender, subject, deleted_at, expires_at, original_labels)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (message_id) DO UPDATE SET
            sender = EXCLUDED.sender,
            subject = EXCLUDED.subject,
            deleted_at = EXCLUDED.deleted_at,
            expires_at = EXCLUDED.expires_at,
            original_labels = EXCLUDED.original_labels
    `
	batch := &pgx.Batch{}
	for _, rec := range recs {
		labels := rec.OriginalLabels
		if labels == nil {
			labels = []string{}
		}
		batch.Queue(query, rec.MessageID, rec.Sender, rec.Subject, rec.DeletedAt, rec.ExpiresAt, labels)
	}
	return r.db.SendBatch(ctx, batch).Close()
}

// Get returns the records that exist for ids.
func (r *UndoRepository) Get(ctx context.Context, ids []string) (map[string]model.UndoRecord, error) {
	defer observe("select", "undo_records", time.Now())
	query := `
        SELECT message_id, sender, subject, deleted_at, expires_at, original_labels
        FROM undo_records
        WHERE message_id = ANY($1)
    `
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.UndoRecord, len(ids))
	for rows.Next() {
		var rec model.UndoRecord
		if err := rows.Scan(
			&rec.MessageID,
			&rec.Sender,
			&rec.Subject,
			&rec.DeletedAt,
			&rec.ExpiresAt,
			&rec.OriginalLabels,
		); err != nil {
			return nil, err
		}
		out[rec.MessageID] = rec
	}
	return out, rows.Err()
}

func (r *UndoRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	defer observe("delete", "undo_records", time.Now())
	_, err := r.db.Exec(ctx, `DELETE FROM undo_records WHERE message_id = ANY($1)`, ids)
	return err
}

func (r *UndoRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer observe("delete_expired", "undo_records", time.Now())
	tag, err := r.db.Exec(ctx, `DELETE FROM undo_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *UndoRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM undo_records`).Scan(&n)
	return n, err
}

func (r *UndoRepository) CountSince(ctx context.Context, since time.Time) (int, error) {
	defer observe("count", "undo_records", time.Now())
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM undo_records WHERE deleted_at >= $1`, since).Scan(&n)
	return n, err
}
