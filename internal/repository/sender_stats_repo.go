package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsweep/internal/model"
)

// SenderStatsRepository keeps a snapshot of the last full analysis.
type SenderStatsRepository struct {
	db *pgxpool.Pool
}

func NewSenderStatsRepository(db *pgxpool.Pool) *SenderStatsRepository {
	return &SenderStatsRepository{db: db}
}

var senderStatsColumns = []string{
	"email", "domain", "total_count", "unread_count", "starred_count", "important_count",
	"attachment_count", "total_size", "oldest", "newest", "spam_score", "is_newsletter",
	"is_automated", "has_unsubscribe", "unsubscribe_url", "analyzed_at",
}

// ReplaceSnapshot swaps the stored snapshot for stats in one transaction.
func (r *SenderStatsRepository) ReplaceSnapshot(ctx context.Context, stats []*model.SenderStats, at time.Time) error {
	defer observe("copy", "sender_stats", time.Now())
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM sender_stats`); err != nil {
		return err
	}
	rows := make([][]any, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, []any{
			s.Email, s.Domain, s.TotalCount, s.UnreadCount, s.StarredCount, s.ImportantCount,
			s.AttachmentCount, s.TotalSize, nullTime(s.Oldest), nullTime(s.Newest), s.SpamScore,
			s.IsNewsletter, s.IsAutomated, s.HasUnsubscribe, s.UnsubscribeURL, at,
		})
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"sender_stats"}, senderStatsColumns, pgx.CopyFromRows(rows)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Top returns up to limit senders of the snapshot, largest first.
func (r *SenderStatsRepository) Top(ctx context.Context, limit int) ([]model.SenderStats, error) {
	defer observe("select", "sender_stats", time.Now())
	query := `
        SELECT email, domain, total_count, unread_count, starred_count, important_count,
               attachment_count, total_size, oldest, newest, spam_score, is_newsletter,
               is_automated, has_unsubscribe, unsubscribe_url
        FROM sender_stats
        ORDER BY total_count DESC, email
        LIMIT $1
    `
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.SenderStats{}
	for rows.Next() {
		var (
			s              model.SenderStats
			oldest, newest *time.Time
		)
		if err := rows.Scan(
			&s.Email, &s.Domain, &s.TotalCount, &s.UnreadCount, &s.StarredCount, &s.ImportantCount,
			&s.AttachmentCount, &s.TotalSize, &oldest, &newest, &s.SpamScore, &s.IsNewsletter,
			&s.IsAutomated, &s.HasUnsubscribe, &s.UnsubscribeURL,
		); err != nil {
			return nil, err
		}
		if oldest != nil {
			s.Oldest = *oldest
		}
		if newest != nil {
			s.Newest = *newest
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
