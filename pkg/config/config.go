package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for audience-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8086"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (automation event dispatch)
	Redis RedisConfig `yaml:"redis"`

	// Segment evaluation configuration
	Evaluation EvaluationConfig `yaml:"evaluation"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"audience"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"audience_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"./migrations"`
}

// URL builds a PostgreSQL connection URL from the individual fields.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection configuration. An empty host disables
// Redis-backed automation dispatch.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`

	// ChannelPrefix is prepended to automation action types to form the
	// pub/sub channel name, e.g. "audience:automation:send_email".
	ChannelPrefix string `yaml:"channel_prefix" env:"REDIS_CHANNEL_PREFIX" env-default:"audience:automation"`
}

// EvaluationConfig holds segment evaluation settings.
type EvaluationConfig struct {
	// BatchSize bounds how many Persons a batch sweep loads per page.
	BatchSize int `yaml:"batch_size" env:"EVALUATION_BATCH_SIZE" env-default:"200"`

	// FeatureLookbackDays is the window feature computation aggregates over.
	FeatureLookbackDays int `yaml:"feature_lookback_days" env:"FEATURE_LOOKBACK_DAYS" env-default:"90"`

	// FeatureMaxAgeMinutes is how old a feature snapshot may be before
	// evaluation treats it as stale and recomputes first.
	FeatureMaxAgeMinutes int `yaml:"feature_max_age_minutes" env:"FEATURE_MAX_AGE_MINUTES" env-default:"1440"`
}

// Load reads configuration from config.yaml (if present) and environment
// variables, with environment taking precedence.
func Load(version string) (*Config, error) {
	cfg := &Config{}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Version = version

	if cfg.Evaluation.BatchSize <= 0 {
		return nil, fmt.Errorf("evaluation batch size must be positive, got %d", cfg.Evaluation.BatchSize)
	}

	return cfg, nil
}
