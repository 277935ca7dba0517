// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Search, Analytics, Redis, Postgres, Kafka, Logging,
// Metrics).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends accepted by IndexConfig.Store.
const (
	StoreDir      = "dir"
	StoreHTTP     = "http"
	StoreRedis    = "redis"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
// RequestTimeout bounds one search request. RateLimit is the number of
// requests per minute allowed from one client address; 0 disables limiting.
// An empty AdminToken leaves the reload endpoint unauthenticated.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
	AdminToken      string        `yaml:"adminToken"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// IndexConfig describes where shards live and how keys map to buckets. The
// bucketing parameters must match the ones the index was built with; the
// registry checks them against the manifest.
type IndexConfig struct {
	Store              string        `yaml:"store"`
	Dir                string        `yaml:"dir"`
	BaseURL            string        `yaml:"baseUrl"`
	BoltPath           string        `yaml:"boltPath"`
	RedisKeyPrefix     string        `yaml:"redisKeyPrefix"`
	PostgresTable      string        `yaml:"postgresTable"`
	PrefixLen          int           `yaml:"prefixLen"`
	Buckets            int           `yaml:"buckets"`
	LoadTimeout        time.Duration `yaml:"loadTimeout"`
	MaxConcurrentLoads int           `yaml:"maxConcurrentLoads"`
	FetchRetries       int           `yaml:"fetchRetries"`
	BreakerThreshold   int           `yaml:"breakerThreshold"`
	BreakerReset       time.Duration `yaml:"breakerReset"`
}

// SearchConfig controls query limits.
type SearchConfig struct {
	MaxQueryLength int `yaml:"maxQueryLength"`
	MaxResults     int `yaml:"maxResults"`
}

// AnalyticsConfig tunes search event collection. Events are batched to the
// search-events topic; the analytics service aggregates them and, when
// SnapshotInterval is positive, snapshots the aggregate to Postgres.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	TopN             int           `yaml:"topN"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	SnapshotTable    string        `yaml:"snapshotTable"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexPublished string `yaml:"indexPublished"`
	SearchEvents   string `yaml:"searchEvents"`
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
// overrides, including those from a .env file in the working directory. It
// returns a Config populated with sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects configurations the registry or resolver cannot run with.
func (c *Config) Validate() error {
	switch c.Index.Store {
	case StoreDir:
		if c.Index.Dir == "" {
			return fmt.Errorf("index.dir is required for store %q", c.Index.Store)
		}
	case StoreHTTP:
		if c.Index.BaseURL == "" {
			return fmt.Errorf("index.baseUrl is required for store %q", c.Index.Store)
		}
	case StoreBolt:
		if c.Index.BoltPath == "" {
			return fmt.Errorf("index.boltPath is required for store %q", c.Index.Store)
		}
	case StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("unknown index.store %q", c.Index.Store)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %d", c.Server.RateLimit)
	}
	if c.Index.PrefixLen < 1 {
		return fmt.Errorf("index.prefixLen must be at least 1, got %d", c.Index.PrefixLen)
	}
	if c.Index.Buckets < 0 {
		return fmt.Errorf("index.buckets must not be negative, got %d", c.Index.Buckets)
	}
	if c.Search.MaxQueryLength < 1 {
		return fmt.Errorf("search.maxQueryLength must be positive, got %d", c.Search.MaxQueryLength)
	}
	if c.Search.MaxResults < 0 {
		return fmt.Errorf("search.maxResults must not be negative, got %d", c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config suitable for serving a locally generated
// documentation site.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  5 * time.Second,
			RateLimit:       0,
			CORSOrigins:     []string{"*"},
		},
		Index: IndexConfig{
			Store:              StoreDir,
			Dir:                "site/search",
			RedisKeyPrefix:     "docsearch:",
			PostgresTable:      "search_shards",
			BoltPath:           "data/shards.db",
			PrefixLen:          1,
			Buckets:            0,
			LoadTimeout:        10 * time.Second,
			MaxConcurrentLoads: 8,
			FetchRetries:       3,
			BreakerThreshold:   5,
			BreakerReset:       30 * time.Second,
		},
		Search: SearchConfig{
			MaxQueryLength: 256,
			MaxResults:     0,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			TopN:             10,
			SnapshotInterval: 0,
			SnapshotTable:    "search_analytics_snapshots",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "docsearch",
			User:            "docsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docsearch",
			Topics: KafkaTopics{
				IndexPublished: "index-published",
				SearchEvents:   "search-events",
			},
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

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DS_SERVER_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("DS_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("DS_INDEX_STORE"); v != "" {
		cfg.Index.Store = v
	}
	if v := os.Getenv("DS_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("DS_INDEX_BASE_URL"); v != "" {
		cfg.Index.BaseURL = v
	}
	if v := os.Getenv("DS_INDEX_BOLT_PATH"); v != "" {
		cfg.Index.BoltPath = v
	}
	if v := os.Getenv("DS_INDEX_PREFIX_LEN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.PrefixLen = n
		}
	}
	if v := os.Getenv("DS_INDEX_BUCKETS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Buckets = n
		}
	}
	if v := os.Getenv("DS_SEARCH_MAX_RESULTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxResults = n
		}
	}
	if v := os.Getenv("DS_ANALYTICS_SNAPSHOT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analytics.SnapshotInterval = d
		}
	}
	if v := os.Getenv("DS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DS_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
