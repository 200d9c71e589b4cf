package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsweep/internal/model"
)

const sample = `
rules:
  - name: old-promos
    enabled: true
    description: promotional mail older than two months
    criteria:
      domain: shop.example
      older_than_days: 60
      exclude_starred: true
      exclude_important: true
    schedule:
      cron: "0 3 * * *"
  - name: notifications
    enabled: false
    criteria:
      sender: noreply@service.example
      unread: true
    schedule:
      interval: 24h
`

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, rules, 2)

	promos := rules[0]
	assert.Equal(t, "old-promos", promos.Name)
	assert.True(t, promos.Enabled)
	require.NotNil(t, promos.Criteria.Domain)
	assert.Equal(t, "shop.example", *promos.Criteria.Domain)
	assert.Equal(t, 60, *promos.Criteria.OlderThanDays)
	assert.True(t, promos.Criteria.ExcludeStarred)
	assert.Equal(t, "0 3 * * *", promos.Schedule.Cron)

	assert.Equal(t, 24*time.Hour, rules[1].Schedule.Interval)
	assert.True(t, *rules[1].Criteria.Unread)
}

func TestParseReportsEveryProblem(t *testing.T) {
	doc := `
rules:
  - name: a
    criteria: {}
    schedule: {cron: "@daily"}
  - name: a
    criteria: {sender: nobody}
    schedule: {}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.True(t, model.IsConfigError(err))

	var ces model.ConfigErrors
	require.ErrorAs(t, err, &ces)
	fields := make([]string, 0, len(ces))
	for _, ce := range ces {
		fields = append(fields, ce.Field)
	}
	assert.Contains(t, fields, "rules.a.criteria.")
	assert.Contains(t, fields, "rules.a")
	assert.Contains(t, fields, "rules.a.schedule")
	assert.Contains(t, fields, "rules.a.criteria.sender")
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("rules: [\n"))
	assert.True(t, model.IsConfigError(err))
}

func TestLoadFileMissingIsEmpty(t *testing.T) {
	rules, err := LoadFile(filepath.Join(t.TempDir(), "rules.yaml"))
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o644))
	s, err := OpenFileStore(path)
	require.NoError(t, err)
	ctx := context.Background()

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "notifications", list[0].Name)

	at := time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkRun(ctx, "old-promos", at))
	got, err := s.Get(ctx, "old-promos")
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, at, *got.LastRun)

	// replacing the definition keeps the run history
	got.Description = "changed"
	require.NoError(t, s.Upsert(ctx, got))
	again, _ := s.Get(ctx, "old-promos")
	assert.Equal(t, "changed", again.Description)
	assert.Equal(t, at, *again.LastRun)

	bad := model.CleanupRule{Name: "x"}
	assert.True(t, model.IsConfigError(s.Upsert(ctx, &bad)))

	require.NoError(t, s.Delete(ctx, "old-promos"))
	_, err = s.Get(ctx, "old-promos")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.MarkRun(ctx, "old-promos", at), ErrNotFound)
}
