package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestLoadConfigMergesAndSubstitutes(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "base.yaml", `
server:
  port: "8080"
db:
  host: localhost
  password: ${DB_SECRET}
jwt:
  secret: ${JWT_SECRET_VALUE}
tags: ["${REGION}", plain]
missing: ${NOT_DEFINED_ANYWHERE}
`)
	write(t, dir, "prod.yaml", `
db:
  host: db.internal
`)
	write(t, dir, "secrets.env", `
# comment
DB_SECRET="from-file"
JWT_SECRET_VALUE=file-jwt
`)
	t.Setenv("JWT_SECRET_VALUE", "env-jwt")
	t.Setenv("REGION", "eu")

	raw, err := LoadConfig("prod", dir)
	require.NoError(t, err)

	var out struct {
		Server  ServerConfig `yaml:"server"`
		DB      DBConfig     `yaml:"db"`
		JWT     JWTConfig    `yaml:"jwt"`
		Tags    []string     `yaml:"tags"`
		Missing string       `yaml:"missing"`
	}
	out.DB.Port = 5432
	require.NoError(t, Decode(raw, &out))

	assert.Equal(t, "8080", out.Server.Port)
	assert.Equal(t, "db.internal", out.DB.Host)
	assert.Equal(t, 5432, out.DB.Port, "defaults survive decoding")
	assert.Equal(t, "from-file", out.DB.Password)
	assert.Equal(t, "env-jwt", out.JWT.Secret, "the process environment wins over secrets.env")
	assert.Equal(t, []string{"eu", "plain"}, out.Tags)
	assert.Equal(t, "${NOT_DEFINED_ANYWHERE}", out.Missing)
}

func TestLoadConfigRequiresBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	assert.Error(t, err)
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("DB_PORT", "6543")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("GMAIL_TOKEN_FILE", "/secrets/token.json")
	t.Setenv("LOG_DEVELOPMENT", "true")

	var db DBConfig
	var rdb RedisConfig
	var gm GmailConfig
	var lg LogConfig
	OverrideDBFromEnv(&db)
	OverrideRedisFromEnv(&rdb)
	OverrideGmailFromEnv(&gm)
	OverrideLogFromEnv(&lg)

	assert.Equal(t, 6543, db.Port)
	assert.False(t, db.Enabled())
	assert.True(t, rdb.Enabled())
	assert.Equal(t, "/secrets/token.json", gm.TokenFile)
	assert.True(t, lg.Development)
}
