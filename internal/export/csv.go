// Package export writes sender statistics as CSV.
package export

import (
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"mailsweep/internal/model"
)

// Columns is the fixed header order. New columns are only ever appended.
var Columns = []string{
	"sender", "domain", "total_count", "unread_count", "starred_count", "important_count",
	"attachment_count", "total_size_bytes", "oldest", "newest", "spam_score",
	"is_newsletter", "is_automated", "has_unsubscribe", "unsubscribe_url",
}

// WriteCSV writes one row per sender sorted by sender address.
func WriteCSV(w io.Writer, stats map[string]*model.SenderStats) error {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, k := range keys {
		s := stats[k]
		if err := cw.Write(row(s)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func row(s *model.SenderStats) []string {
	return []string{
		s.Email,
		s.Domain,
		strconv.Itoa(s.TotalCount),
		strconv.Itoa(s.UnreadCount),
		strconv.Itoa(s.StarredCount),
		strconv.Itoa(s.ImportantCount),
		strconv.Itoa(s.AttachmentCount),
		strconv.FormatInt(s.TotalSize, 10),
		stamp(s.Oldest),
		stamp(s.Newest),
		strconv.FormatFloat(s.SpamScore, 'f', 4, 64),
		strconv.FormatBool(s.IsNewsletter),
		strconv.FormatBool(s.IsAutomated),
		strconv.FormatBool(s.HasUnsubscribe),
		s.UnsubscribeURL,
	}
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
