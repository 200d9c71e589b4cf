package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置。Host 为空表示不使用 Postgres。
type DBConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	Name      string        `yaml:"name"`
	MaxConns  int32         `yaml:"max_conns"`
	SlowQuery time.Duration `yaml:"slow_query"`
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

// MQConfig 消息队列配置。URL 为空表示不发布事件。
type MQConfig struct {
	URL string `yaml:"url"`
	// Outbox 为 true 时事件先写入 outbox_events 表，再由 dispatcher 投递（需要 DB）
	Outbox bool `yaml:"outbox"`
}

func (c MQConfig) Enabled() bool { return c.URL != "" }

// RedisConfig Redis配置。Addr 为空表示使用进程内缓存。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Development bool   `yaml:"development"`
	Level       string `yaml:"level"`
}

// GmailConfig Gmail API 凭据
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	Concurrency     int    `yaml:"concurrency"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.DB = n
		}
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
	if ttl := os.Getenv("JWT_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.TTL = d
		}
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideLogFromEnv 从环境变量覆盖日志配置
func OverrideLogFromEnv(cfg *LogConfig) {
	if dev := os.Getenv("LOG_DEVELOPMENT"); dev != "" {
		if b, err := strconv.ParseBool(dev); err == nil {
			cfg.Development = b
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
}

// OverrideGmailFromEnv 从环境变量覆盖 Gmail 凭据路径
func OverrideGmailFromEnv(cfg *GmailConfig) {
	if path := os.Getenv("GMAIL_CREDENTIALS_FILE"); path != "" {
		cfg.CredentialsFile = path
	}
	if path := os.Getenv("GMAIL_TOKEN_FILE"); path != "" {
		cfg.TokenFile = path
	}
}
