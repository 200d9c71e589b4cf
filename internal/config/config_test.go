package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsweep/internal/model"
)

func TestLoadLayersOverDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(`
server:
  port: "9090"
mail_api:
  requests_per_second: 10
  breaker:
    timeout: 1m
undo:
  window: 48h
engine:
  suggestions_ttl: 5m
  suggest:
    max_suggestions: 5
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(`
undo:
  sqlite_path: /tmp/undo.db
`), 0o600))
	t.Setenv("GMAIL_TOKEN_FILE", "/run/token.json")

	cfg, err := Load("test", dir)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.MailAPI.RequestsPerSecond)
	assert.Equal(t, time.Minute, cfg.MailAPI.Breaker.Timeout)
	assert.Equal(t, 5, cfg.MailAPI.Breaker.FailureThreshold, "untouched nested defaults stay")
	assert.Equal(t, 48*time.Hour, cfg.Undo.Window)
	assert.Equal(t, 10*time.Minute, cfg.Undo.SweepInterval)
	assert.Equal(t, "/tmp/undo.db", cfg.Undo.SQLitePath)
	assert.Equal(t, 5*time.Minute, cfg.Engine.SuggestionsTTL)
	assert.Equal(t, time.Hour, cfg.Engine.SendersTTL)
	assert.Equal(t, 5, cfg.Engine.Suggest.MaxSuggestions)
	assert.Equal(t, "/run/token.json", cfg.Gmail.TokenFile)
	assert.False(t, cfg.DB.Enabled())
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.MailAPI.BatchSize = 500
	cfg.Executor.Workers = 0
	cfg.Undo.Window = 0
	cfg.MQ.Outbox = true

	err := cfg.Validate()
	require.Error(t, err)

	var ces model.ConfigErrors
	require.ErrorAs(t, err, &ces)
	fields := make([]string, 0, len(ces))
	for _, ce := range ces {
		fields = append(fields, ce.Field)
	}
	assert.ElementsMatch(t, []string{"mail_api.batch_size", "executor.workers", "undo.window", "mq.outbox"}, fields)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidateRejectsUnresolvedPlaceholders(t *testing.T) {
	cfg := Default()
	cfg.JWT.Secret = "${JWT_SECRET}"
	cfg.Redis.Addr = "${REDIS_ADDR}"

	var ces model.ConfigErrors
	require.ErrorAs(t, cfg.Validate(), &ces)
	fields := make([]string, 0, len(ces))
	for _, ce := range ces {
		fields = append(fields, ce.Field)
	}
	assert.ElementsMatch(t, []string{"jwt.secret", "redis.addr"}, fields)
}
