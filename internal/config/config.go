// Package config assembles the typed configuration of the server and the CLI.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"mailsweep/internal/executor"
	"mailsweep/internal/mailapi"
	"mailsweep/internal/model"
	"mailsweep/internal/service"
	"mailsweep/pkg/config"
)

type CacheConfig struct {
	// Size bounds the in-process LRU used when Redis is not configured.
	Size int `yaml:"size"`
}

type UndoConfig struct {
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// SQLitePath is used when no Postgres is configured. Empty keeps records in memory.
	SQLitePath string `yaml:"sqlite_path"`
}

type PatternsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type RulesConfig struct {
	// File backs the rule store when no Postgres is configured.
	File string `yaml:"file"`
}

type CollectorConfig struct {
	Workers int `yaml:"workers"`
}

type OutboxConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type Config struct {
	Env       string              `yaml:"env"`
	Log       config.LogConfig    `yaml:"log"`
	DB        config.DBConfig     `yaml:"db"`
	MQ        config.MQConfig     `yaml:"mq"`
	Redis     config.RedisConfig  `yaml:"redis"`
	JWT       config.JWTConfig    `yaml:"jwt"`
	Server    config.ServerConfig `yaml:"server"`
	Gmail     config.GmailConfig  `yaml:"gmail"`
	MailAPI   mailapi.Config      `yaml:"mail_api"`
	Executor  executor.Config     `yaml:"executor"`
	Engine    service.Config      `yaml:"engine"`
	Cache     CacheConfig         `yaml:"cache"`
	Undo      UndoConfig          `yaml:"undo"`
	Patterns  PatternsConfig      `yaml:"patterns"`
	Rules     RulesConfig         `yaml:"rules"`
	Collector CollectorConfig     `yaml:"collector"`
	Outbox    OutboxConfig        `yaml:"outbox"`
}

func Default() *Config {
	return &Config{
		Env: "local",
		DB: config.DBConfig{
			Port:      5432,
			MaxConns:  10,
			SlowQuery: 100 * time.Millisecond,
		},
		JWT:       config.JWTConfig{TTL: 24 * time.Hour},
		Server:    config.ServerConfig{Port: "8080"},
		Gmail:     config.GmailConfig{CredentialsFile: "credentials.json", TokenFile: "token.json", Concurrency: 10},
		MailAPI:   mailapi.DefaultConfig(),
		Executor:  executor.DefaultConfig(),
		Engine:    service.DefaultConfig(),
		Cache:     CacheConfig{Size: 256},
		Undo:      UndoConfig{Window: 24 * time.Hour, SweepInterval: 10 * time.Minute},
		Patterns:  PatternsConfig{File: "config/patterns.yaml", Watch: true},
		Rules:     RulesConfig{File: "config/rules.yaml"},
		Collector: CollectorConfig{Workers: 4},
		Outbox:    OutboxConfig{Interval: 2 * time.Second, BatchSize: 50},
	}
}

// Load reads base.yaml, <env>.yaml and secrets.env from dir over the defaults
// and applies the environment overrides.
func Load(env, dir string) (*Config, error) {
	raw, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := config.Decode(raw, cfg); err != nil {
		return nil, &model.ConfigError{Field: dir, Reason: err.Error()}
	}
	if env != "" {
		cfg.Env = env
	}

	// 环境变量覆盖
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideGmailFromEnv(&cfg.Gmail)
	if path := os.Getenv("UNDO_SQLITE_PATH"); path != "" {
		cfg.Undo.SQLitePath = path
	}
	if path := os.Getenv("PATTERNS_FILE"); path != "" {
		cfg.Patterns.File = path
	}
	if path := os.Getenv("RULES_FILE"); path != "" {
		cfg.Rules.File = path
	}
	if n := os.Getenv("EXECUTOR_WORKERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Executor.Workers = v
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs model.ConfigErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, &model.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if c.MailAPI.BatchSize <= 0 || c.MailAPI.BatchSize > mailapi.MaxBatchSize {
		add("mail_api.batch_size", "must be between 1 and %d", mailapi.MaxBatchSize)
	}
	if c.MailAPI.RequestsPerSecond <= 0 {
		add("mail_api.requests_per_second", "must be positive")
	}
	if c.MailAPI.MaxRetries < 0 {
		add("mail_api.max_retries", "must not be negative")
	}
	if c.Executor.Workers <= 0 {
		add("executor.workers", "must be positive")
	}
	if c.Executor.BatchSize <= 0 || c.Executor.BatchSize > mailapi.MaxBatchSize {
		add("executor.batch_size", "must be between 1 and %d", mailapi.MaxBatchSize)
	}
	if c.Undo.Window <= 0 {
		add("undo.window", "must be positive")
	}
	if c.Undo.SweepInterval < 0 {
		add("undo.sweep_interval", "must not be negative")
	}
	if c.Engine.Suggest.MinConfidence < 0 || c.Engine.Suggest.MinConfidence > 1 {
		add("engine.suggest.min_confidence", "must be within [0, 1]")
	}
	if c.Engine.Suggest.EvidenceHalfPoint < 0 {
		add("engine.suggest.evidence_half_point", "must not be negative")
	}
	if c.DB.Enabled() && c.DB.Name == "" {
		add("db.name", "required when db.host is set")
	}
	if c.MQ.Outbox && !c.DB.Enabled() {
		add("mq.outbox", "requires db.host")
	}
	if c.Server.Port == "" {
		add("server.port", "required")
	}
	for field, v := range map[string]string{
		"jwt.secret":  c.JWT.Secret,
		"db.host":     c.DB.Host,
		"db.password": c.DB.Password,
		"redis.addr":  c.Redis.Addr,
		"mq.url":      c.MQ.URL,
	} {
		if strings.Contains(v, "${") {
			add(field, "placeholder %s was not resolved", v)
		}
	}
	return errs.Err()
}
