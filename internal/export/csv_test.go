package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsweep/internal/model"
)

func TestWriteCSV(t *testing.T) {
	day := time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("X", 3600))
	stats := map[string]*model.SenderStats{
		"zed@b.example": {Email: "zed@b.example", Domain: "b.example", TotalCount: 1},
		"amy@a.example": {
			Email: "amy@a.example", Domain: "a.example",
			TotalCount: 12, UnreadCount: 10, TotalSize: 4096,
			Oldest: day, Newest: day.Add(24 * time.Hour),
			SpamScore: 0.87654, IsNewsletter: true, HasUnsubscribe: true,
			UnsubscribeURL: "https://a.example/u?x=1,2",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, stats))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, []string{
		"amy@a.example", "a.example", "12", "10", "0", "0", "0", "4096",
		"2026-02-03T03:05:06Z", "2026-02-04T03:05:06Z", "0.8765",
		"true", "false", "true", "https://a.example/u?x=1,2",
	}, rows[1])
	assert.Equal(t, "zed@b.example", rows[2][0])
	assert.Equal(t, "", rows[2][8])
}

func TestWriteCSVIsStable(t *testing.T) {
	stats := map[string]*model.SenderStats{}
	for _, s := range []string{"c@x", "a@x", "b@x", "d@x"} {
		stats[s] = &model.SenderStats{Email: s, TotalCount: 1}
	}
	var a, b bytes.Buffer
	require.NoError(t, WriteCSV(&a, stats))
	require.NoError(t, WriteCSV(&b, stats))
	assert.Equal(t, a.String(), b.String())
}
