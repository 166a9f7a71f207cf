// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Tagger, Search, Redis, Kafka, Postgres, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Index    IndexConfig    `yaml:"index"`
	Tagger   TaggerConfig   `yaml:"tagger"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// AllowOrigins lists browser origins allowed to call the API; "*"
	// allows any. Empty disables CORS.
	AllowOrigins []string `yaml:"allowOrigins"`
	// RateLimitPerMinute caps requests per client IP. 0 disables limiting.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// IndexConfig locates the CSV sources, the JSON snapshot and the optional
// synonym table, and sizes the builder's extraction pool.
type IndexConfig struct {
	SourceDir    string `yaml:"sourceDir"`
	SnapshotPath string `yaml:"snapshotPath"`
	SynonymsPath string `yaml:"synonymsPath"`
	Workers      int    `yaml:"workers"`
}

// TaggerConfig selects and configures the external text-analysis call used
// to derive summaries and tags. Mode is one of "command", "llm" or "none".
type TaggerConfig struct {
	Mode             string        `yaml:"mode"`
	Command          []string      `yaml:"command"`
	Host             string        `yaml:"host"`
	Model            string        `yaml:"model"`
	Token            string        `yaml:"token"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failureThreshold"`
	ResetTimeout     time.Duration `yaml:"resetTimeout"`
}

// SearchConfig controls query validation and result limits.
type SearchConfig struct {
	MaxResults     int `yaml:"maxResults"`
	MaxQueryLength int `yaml:"maxQueryLength"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SearchEvents  string `yaml:"searchEvents"`
	IndexComplete string `yaml:"indexComplete"`
}

// PostgresConfig holds PostgreSQL connection parameters for the build ledger.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			RateLimitPerMinute: 120,
		},
		Index: IndexConfig{
			SourceDir:    "csv",
			SnapshotPath: "docs/index.json",
			Workers:      1,
		},
		Tagger: TaggerConfig{
			Mode: "command",
			Command: []string{
				"gh", "models", "run", ".github/models/extract.prompt.yaml",
				"--var", "text={text}",
			},
			Host:             "http://localhost:11434/v1",
			Model:            "phi-4",
			Timeout:          60 * time.Second,
			FailureThreshold: 0,
			ResetTimeout:     30 * time.Second,
		},
		Search: SearchConfig{
			MaxResults:     20,
			MaxQueryLength: 100,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "bulletin-search",
			Topics: KafkaTopics{
				SearchEvents:  "bulletin.search-events",
				IndexComplete: "bulletin.index-complete",
			},
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "bulletin",
			User:            "bulletin",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    5,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Index.SnapshotPath == "" {
		return fmt.Errorf("config: index.snapshotPath is required")
	}
	if c.Index.Workers < 1 {
		return fmt.Errorf("config: index.workers must be at least 1, got %d", c.Index.Workers)
	}
	switch c.Tagger.Mode {
	case "command":
		if len(c.Tagger.Command) == 0 {
			return fmt.Errorf("config: tagger.command is required in command mode")
		}
	case "llm":
		if c.Tagger.Host == "" || c.Tagger.Model == "" {
			return fmt.Errorf("config: tagger.host and tagger.model are required in llm mode")
		}
	case "none":
	default:
		return fmt.Errorf("config: unknown tagger.mode %q", c.Tagger.Mode)
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("config: server.rateLimitPerMinute must not be negative")
	}
	if c.Search.MaxResults < 1 {
		return fmt.Errorf("config: search.maxResults must be positive")
	}
	if c.Search.MaxQueryLength < 1 {
		return fmt.Errorf("config: search.maxQueryLength must be positive")
	}
	return nil
}

// applyEnvOverrides reads MB_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MB_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MB_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("MB_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("MB_INDEX_SOURCE_DIR"); v != "" {
		cfg.Index.SourceDir = v
	}
	if v := os.Getenv("MB_INDEX_SNAPSHOT_PATH"); v != "" {
		cfg.Index.SnapshotPath = v
	}
	if v := os.Getenv("MB_INDEX_SYNONYMS_PATH"); v != "" {
		cfg.Index.SynonymsPath = v
	}
	if v := os.Getenv("MB_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("MB_TAGGER_MODE"); v != "" {
		cfg.Tagger.Mode = v
	}
	if v := os.Getenv("MB_TAGGER_HOST"); v != "" {
		cfg.Tagger.Host = v
	}
	if v := os.Getenv("MB_TAGGER_MODEL"); v != "" {
		cfg.Tagger.Model = v
	}
	if v := os.Getenv("MB_TAGGER_TOKEN"); v != "" {
		cfg.Tagger.Token = v
	}
	if v := os.Getenv("MB_TAGGER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tagger.Timeout = d
		}
	}
	if v := os.Getenv("MB_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v)
	}
	if v := os.Getenv("MB_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MB_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MB_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v)
	}
	if v := os.Getenv("MB_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MB_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = parseBool(v)
	}
	if v := os.Getenv("MB_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MB_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MB_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MB_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
