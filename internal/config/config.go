package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Drafts   DraftsConfig   `yaml:"drafts"`
	History  HistoryConfig  `yaml:"history"`
	Export   ExportConfig   `yaml:"export"`
	Publish  PublishConfig  `yaml:"publish"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	// WriteTimeoutSeconds bounds a response, including large exports.
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
}

// WriteTimeout returns the response write deadline.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the relational store connection.
type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-query timeout as a duration
func (c DatabaseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig holds the Redis connection used for drafts and save locks.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// DraftsConfig controls the durable draft cache and the auto-save timers.
type DraftsConfig struct {
	Backend                 string `yaml:"backend"` // "redis" or "dynamodb"
	DynamoDBTable           string `yaml:"dynamodb_table"`
	AWSRegion               string `yaml:"aws_region"`
	AWSProfile              string `yaml:"aws_profile"`
	TTLHours                int    `yaml:"ttl_hours"`
	SnapshotIntervalSeconds int    `yaml:"snapshot_interval_seconds"`
	CommitIntervalSeconds   int    `yaml:"commit_interval_seconds"`
	AutoCommit              bool   `yaml:"auto_commit"`
}

// TTL returns how long drafts are kept in the cache
func (c DraftsConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// SnapshotInterval returns the draft snapshot period
func (c DraftsConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// CommitInterval returns the auto-commit period
func (c DraftsConfig) CommitInterval() time.Duration {
	return time.Duration(c.CommitIntervalSeconds) * time.Second
}

// HistoryConfig bounds undo/redo.
type HistoryConfig struct {
	MaxSize int `yaml:"max_size"`
}

// ExportConfig selects where publish snapshots are archived.
type ExportConfig struct {
	Type       string `yaml:"type"` // "local" or "s3"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ExportConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return "" // Use default credential chain (IAM role)
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// PublishConfig holds custom publish rules.
type PublishConfig struct {
	Rules []PublishRule `yaml:"rules"`
}

// PublishRule is an expression evaluated per stage. When Expr is true the
// stage gets an issue with Message at the given severity.
type PublishRule struct {
	Name     string `yaml:"name"`
	Severity string `yaml:"severity"` // "error" or "warning"
	Expr     string `yaml:"expr"`
	Message  string `yaml:"message"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	RedactPII   *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, for binaries
// that run without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Server.WriteTimeoutSeconds == 0 {
		cfg.Server.WriteTimeoutSeconds = 60
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.TimeoutSeconds == 0 {
		cfg.Database.TimeoutSeconds = 15
	}
	if cfg.Drafts.Backend == "" {
		cfg.Drafts.Backend = "redis"
	}
	if cfg.Drafts.DynamoDBTable == "" {
		cfg.Drafts.DynamoDBTable = "funnel-drafts"
	}
	if cfg.Drafts.AWSRegion == "" {
		cfg.Drafts.AWSRegion = "us-west-2"
	}
	if cfg.Drafts.TTLHours == 0 {
		cfg.Drafts.TTLHours = 24 * 7
	}
	if cfg.Drafts.SnapshotIntervalSeconds == 0 {
		cfg.Drafts.SnapshotIntervalSeconds = 5
	}
	if cfg.Drafts.CommitIntervalSeconds == 0 {
		cfg.Drafts.CommitIntervalSeconds = 60
	}
	if cfg.History.MaxSize == 0 {
		cfg.History.MaxSize = 50
	}
	if cfg.Export.Type == "" {
		cfg.Export.Type = "local"
	}
	if cfg.Export.LocalPath == "" {
		cfg.Export.LocalPath = "./data/exports"
	}
	if cfg.Export.S3Prefix == "" {
		cfg.Export.S3Prefix = "funnel-exports"
	}
	if cfg.Export.AWSRegion == "" {
		cfg.Export.AWSRegion = "us-west-2"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
// A missing config file is not an error: defaults plus env are used.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = Default()
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Redis.URL = redisURL
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("DRAFT_BACKEND"); v != "" {
		cfg.Drafts.Backend = v
	}
	if v := os.Getenv("DRAFT_DYNAMODB_TABLE"); v != "" {
		cfg.Drafts.DynamoDBTable = v
	}
	if v := os.Getenv("HISTORY_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.History.MaxSize = n
		}
	}
	if v := os.Getenv("EXPORT_S3_BUCKET"); v != "" {
		cfg.Export.S3Bucket = v
		cfg.Export.Type = "s3"
	}
	if v := os.Getenv("EXPORT_S3_REGION"); v != "" {
		cfg.Export.AWSRegion = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
		}
	}

	return cfg, nil
}
