// Package config loads and validates application configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// every subsystem of the index engine: index storage, WAL, tiered merge,
// search, tokenization, the DocStore backing store, the optional query
// cache, logging, metrics, and tracing.
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
	Index     IndexConfig     `yaml:"index"`
	WAL       WALConfig       `yaml:"wal"`
	Merge     MergeConfig     `yaml:"merge"`
	Search    SearchConfig    `yaml:"search"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// IndexConfig controls where the index lives on disk, its in-memory
// segment thresholds, and which directories the ingest pipeline walks.
type IndexConfig struct {
	DataDir                string        `yaml:"dataDir"`
	SourceRoots            []string      `yaml:"sourceRoots"`
	SegmentMaxDocs         int           `yaml:"segmentMaxDocs"`
	SegmentMaxBytes        int64         `yaml:"segmentMaxBytes"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	NumWorkers             int           `yaml:"numWorkers"`
	QueueCapacity          int           `yaml:"queueCapacity"`
}

// WALConfig holds the write-ahead log's rotation and durability settings.
// The wal package does not read them: it always rotates at
// wal.DefaultMaxSegmentSize and fsyncs every append.
type WALConfig struct {
	RotationThreshold int64 `yaml:"rotationThreshold"`
	SyncOnAppend      bool  `yaml:"syncOnAppend"`
}

// MergeConfig controls the tiered merge policy.
type MergeConfig struct {
	FanIn    int           `yaml:"fanIn"`
	Interval time.Duration `yaml:"interval"`
}

// SearchConfig controls query execution limits, timeouts, and admission.
type SearchConfig struct {
	DefaultLimit         int           `yaml:"defaultLimit"`
	MaxLimit             int           `yaml:"maxLimit"`
	QueryTimeout         time.Duration `yaml:"queryTimeout"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries"`
}

// TokenizerConfig controls optional tokenization behavior.
type TokenizerConfig struct {
	DropStopWords    bool `yaml:"dropStopWords"`
	DisableCJKBigram bool `yaml:"disableCjkBigram"`
}

// PostgresConfig holds PostgreSQL connection parameters backing the
// DocStore.
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

// RedisConfig holds Redis connection and query-cache parameters. A zero
// Addr means the optional query cache is disabled.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls the in-process span tree over query evaluation
// stages.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies
// FSEARCH_*-prefixed environment-variable overrides. It returns a Config
// populated with sensible defaults for any missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults for local,
// single-workstation use.
func defaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			DataDir:         "./fsearch-data",
			SegmentMaxDocs:  50_000,
			SegmentMaxBytes: 64 << 20,
			FlushInterval:   30 * time.Second,
			NumWorkers:      0,
			QueueCapacity:   1000,
		},
		WAL: WALConfig{
			RotationThreshold: 16 << 20,
			SyncOnAppend:      true,
		},
		Merge: MergeConfig{
			FanIn:    4,
			Interval: time.Minute,
		},
		Search: SearchConfig{
			DefaultLimit:         10,
			MaxLimit:             1000,
			QueryTimeout:         5 * time.Second,
			MaxConcurrentQueries: 16,
		},
		Tokenizer: TokenizerConfig{
			DropStopWords:    true,
			DisableCJKBigram: false,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fsearch",
			User:            "fsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 0.1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FSEARCH_* environment variables and overrides
// the corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FSEARCH_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("FSEARCH_INDEX_SOURCE_ROOTS"); v != "" {
		cfg.Index.SourceRoots = strings.Split(v, ",")
	}
	if v := os.Getenv("FSEARCH_INDEX_NUM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.NumWorkers = n
		}
	}
	if v := os.Getenv("FSEARCH_WAL_SYNC_ON_APPEND"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.WAL.SyncOnAppend = b
		}
	}
	if v := os.Getenv("FSEARCH_MERGE_FAN_IN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Merge.FanIn = n
		}
	}
	if v := os.Getenv("FSEARCH_SEARCH_MAX_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxLimit = n
		}
	}
	if v := os.Getenv("FSEARCH_SEARCH_MAX_CONCURRENT_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxConcurrentQueries = n
		}
	}
	if v := os.Getenv("FSEARCH_TOKENIZER_DROP_STOP_WORDS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tokenizer.DropStopWords = b
		}
	}
	if v := os.Getenv("FSEARCH_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FSEARCH_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FSEARCH_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FSEARCH_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FSEARCH_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FSEARCH_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("FSEARCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FSEARCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FSEARCH_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FSEARCH_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FSEARCH_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
	if v := os.Getenv("FSEARCH_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
