package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	Visibility         time.Duration `yaml:"visibility"`
	CompletedRetention time.Duration `yaml:"completed_retention"`
	FailedRetention    time.Duration `yaml:"failed_retention"`
	HistorySize        int           `yaml:"history_size"`
	Concurrency        int           `yaml:"concurrency"`
}

type LedgerConfig struct {
	ReservationTTL  time.Duration `yaml:"reservation_ttl"`
	StalePendingAge time.Duration `yaml:"stale_pending_age"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

type InferenceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Queue     QueueConfig     `yaml:"queue"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Inference InferenceConfig `yaml:"inference"`
	Auth      AuthConfig      `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffBase <= 0 {
		cfg.Queue.BackoffBase = 2 * time.Second
	}
	if cfg.Queue.Visibility <= 0 {
		cfg.Queue.Visibility = 30 * time.Second
	}
	if cfg.Queue.CompletedRetention <= 0 {
		cfg.Queue.CompletedRetention = time.Hour
	}
	if cfg.Queue.FailedRetention <= 0 {
		cfg.Queue.FailedRetention = 24 * time.Hour
	}
	if cfg.Queue.HistorySize <= 0 {
		cfg.Queue.HistorySize = 100
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}
	if cfg.Ledger.ReservationTTL <= 0 {
		cfg.Ledger.ReservationTTL = 30 * time.Minute
	}
	if cfg.Ledger.StalePendingAge <= 0 {
		cfg.Ledger.StalePendingAge = time.Hour
	}
	if cfg.Ledger.SweepInterval <= 0 {
		cfg.Ledger.SweepInterval = 5 * time.Minute
	}
	if cfg.Inference.Timeout <= 0 {
		cfg.Inference.Timeout = 10 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Inference.BaseURL == "" {
		return nil, errors.New("inference.base_url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
