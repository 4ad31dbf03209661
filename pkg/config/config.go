// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Source, Index, Search, Store, Postgres, Redis, Kafka, etc.).
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
	Source   SourceConfig   `yaml:"source"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// RateLimit is requests per minute per client; zero disables limiting.
	RateLimit   int      `yaml:"rateLimit"`
	CORSOrigins []string `yaml:"corsOrigins"`
}

// SourceConfig describes where identifiers and metadata documents come from.
// When Dir is set the local directory source is used instead of BaseURL.
type SourceConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	ListingPath   string        `yaml:"listingPath"`
	MetaSuffix    string        `yaml:"metaSuffix"`
	FilesSuffix   string        `yaml:"filesSuffix"`
	IncludeFiles  bool          `yaml:"includeFiles"`
	Dir           string        `yaml:"dir"`
	Concurrency   int           `yaml:"concurrency"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
	UserAgent     string        `yaml:"userAgent"`
	RespectRobots bool          `yaml:"respectRobots"`
	FailFast      bool          `yaml:"failFast"`
}

// IndexConfig controls how records are turned into index documents.
type IndexConfig struct {
	IDField string `yaml:"idField"`
	// URLField receives each record's item URL when the source can build
	// one. Empty disables it.
	URLField string `yaml:"urlField"`
	MaxDepth int    `yaml:"maxDepth"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	MaxResults   int  `yaml:"maxResults"`
	DefaultLimit int  `yaml:"defaultLimit"`
	CacheEnabled bool `yaml:"cacheEnabled"`
}

// StoreConfig selects the optional record store. Driver is one of "none",
// "bolt" or "postgres".
type StoreConfig struct {
	Driver  string        `yaml:"driver"`
	Path    string        `yaml:"path"`
	Restore bool          `yaml:"restore"`
	Timeout time.Duration `yaml:"timeout"`
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

// KafkaConfig holds Kafka broker and topic settings. Empty Brokers disables
// event publishing and the reindex consumer.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexBuilt      string `yaml:"indexBuilt"`
	ReindexRequests string `yaml:"reindexRequests"`
	SearchEvents    string `yaml:"searchEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
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

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
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
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "", "none", "bolt", "postgres":
	default:
		return fmt.Errorf("store.driver %q: must be none, bolt or postgres", c.Store.Driver)
	}
	if c.Store.Driver == "bolt" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the bolt driver")
	}
	if c.Source.Dir == "" && c.Source.BaseURL == "" {
		return fmt.Errorf("one of source.baseURL or source.dir is required")
	}
	if c.Source.Concurrency < 1 {
		return fmt.Errorf("source.concurrency must be at least 1, got %d", c.Source.Concurrency)
	}
	if strings.TrimSpace(c.Index.IDField) == "" {
		return fmt.Errorf("index.idField must not be empty")
	}
	if c.Index.URLField == c.Index.IDField {
		return fmt.Errorf("index.urlField must differ from index.idField %q", c.Index.IDField)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search limits invalid: defaultLimit=%d maxResults=%d",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
			RateLimit:       600,
		},
		Source: SourceConfig{
			BaseURL:       "http://localhost:8000",
			ListingPath:   "/items/",
			MetaSuffix:    "_meta.xml",
			FilesSuffix:   "_files.xml",
			Concurrency:   8,
			Timeout:       15 * time.Second,
			MaxRetries:    3,
			UserAgent:     "metadata-search/1.0",
			RespectRobots: true,
		},
		Index: IndexConfig{
			IDField:  "id",
			URLField: "url",
			MaxDepth: 64,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 10,
		},
		Store: StoreConfig{
			Driver:  "none",
			Path:    "data/records.db",
			Timeout: 30 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "metadatasearch",
			User:            "metadatasearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			ConsumerGroup: "metadata-search",
			Topics: KafkaTopics{
				IndexBuilt:      "metadata.index-built",
				ReindexRequests: "metadata.reindex-requests",
				SearchEvents:    "metadata.search-events",
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

// applyEnvOverrides reads MDS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MDS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MDS_SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("MDS_SOURCE_DIR"); v != "" {
		cfg.Source.Dir = v
	}
	if v := os.Getenv("MDS_SOURCE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Source.Concurrency = n
		}
	}
	if v := os.Getenv("MDS_SOURCE_INCLUDE_FILES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Source.IncludeFiles = b
		}
	}
	if v := os.Getenv("MDS_SOURCE_FAIL_FAST"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Source.FailFast = b
		}
	}
	if v := os.Getenv("MDS_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("MDS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MDS_STORE_RESTORE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Store.Restore = b
		}
	}
	if v := os.Getenv("MDS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("MDS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("MDS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("MDS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("MDS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MDS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("MDS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("MDS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MDS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MDS_SEARCH_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = b
		}
	}
	if v := os.Getenv("MDS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MDS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
