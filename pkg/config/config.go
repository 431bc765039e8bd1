// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Index, Build, Postgres, Kafka, Redis, Bolt, etc.).
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
	Build    BuildConfig    `yaml:"build"`
	Search   SearchConfig   `yaml:"search"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Bolt     BoltConfig     `yaml:"bolt"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// AllowOrigins lists origins whose pages may query the service and fetch
	// the index from a browser. "*" allows any origin.
	AllowOrigins []string `yaml:"allowOrigins"`
	// RateLimit caps search requests per client per minute; 0 disables it.
	RateLimit int `yaml:"rateLimit"`
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For header
	// identifies the client for rate limiting.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// IndexConfig says where the live search index comes from.
type IndexConfig struct {
	// Path is the searchindex.js or searchindex.json file served by searchd.
	Path string `yaml:"path"`
	// Watch enables hot reload when Path changes on disk.
	Watch bool `yaml:"watch"`
	// SnapshotBackend selects the snapshot store: "postgres", "bolt" or "none".
	SnapshotBackend string `yaml:"snapshotBackend"`
	// Source is "file" or "snapshot"; snapshot loads the latest published snapshot.
	Source string `yaml:"source"`
}

// BuildConfig mirrors the configuration blocks written into a regenerated index.
type BuildConfig struct {
	Fields          []FieldConfig `yaml:"fields"`
	Pipeline        []string      `yaml:"pipeline"`
	Bool            string        `yaml:"bool"`
	Expand          bool          `yaml:"expand"`
	LimitResults    int           `yaml:"limitResults"`
	TeaserWordCount int           `yaml:"teaserWordCount"`
	Ref             string        `yaml:"ref"`
	Version         string        `yaml:"version"`
	// AccumulateFields reproduces generators that carry term counts from one
	// field into the next field of the same document.
	AccumulateFields bool `yaml:"accumulateFields"`
}

// FieldConfig names an indexed field and its query-time boost.
type FieldConfig struct {
	Name  string  `yaml:"name"`
	Boost float64 `yaml:"boost"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	CacheEnabled bool          `yaml:"cacheEnabled"`
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
	IndexPublished  string `yaml:"indexPublished"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// BoltConfig locates the local bbolt snapshot database.
type BoltConfig struct {
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
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

// Default returns the built-in configuration without reading any file.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects settings that would produce an unusable index or service.
func (c *Config) Validate() error {
	if len(c.Build.Fields) == 0 {
		return fmt.Errorf("build.fields must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Build.Fields))
	for _, f := range c.Build.Fields {
		if f.Name == "" {
			return fmt.Errorf("build.fields: field name is required")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("build.fields: duplicate field %q", f.Name)
		}
		if f.Boost < 0 {
			return fmt.Errorf("build.fields: boost for %q must not be negative", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	switch strings.ToUpper(c.Build.Bool) {
	case "OR", "AND":
	default:
		return fmt.Errorf("build.bool must be OR or AND, got %q", c.Build.Bool)
	}
	switch c.Index.SnapshotBackend {
	case "postgres", "bolt", "none", "":
	default:
		return fmt.Errorf("index.snapshotBackend must be postgres, bolt or none, got %q", c.Index.SnapshotBackend)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative")
	}
	if c.Build.LimitResults <= 0 || c.Build.TeaserWordCount <= 0 {
		return fmt.Errorf("build.limitResults and build.teaserWordCount must be positive")
	}
	return nil
}

// defaultConfig returns a Config whose build section reproduces the layout of
// an mdBook search index.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			AllowOrigins:    []string{"*"},
		},
		Index: IndexConfig{
			Path:            "book/searchindex.js",
			Watch:           true,
			SnapshotBackend: "none",
			Source:          "file",
		},
		Build: BuildConfig{
			Fields: []FieldConfig{
				{Name: "title", Boost: 2},
				{Name: "body", Boost: 1},
				{Name: "breadcrumbs", Boost: 1},
			},
			Pipeline:        []string{"trimmer", "stopWordFilter", "stemmer"},
			Bool:            "OR",
			Expand:          true,
			LimitResults:    30,
			TeaserWordCount: 30,
			Ref:             "id",
			Version:         "0.9.5",

			// mdBook's generator carries counts across fields.
			AccumulateFields: true,
		},
		Search: SearchConfig{
			MaxResults:   100,
			DefaultLimit: 30,
			QueryTimeout: 2 * time.Second,
			CacheEnabled: true,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "booksearch",
			User:            "booksearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "booksearch-group",
			Topics: KafkaTopics{
				IndexPublished:  "index.published",
				AnalyticsEvents: "search-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Bolt: BoltConfig{
			Path:    "data/snapshots.db",
			Timeout: time.Second,
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

// applyEnvOverrides reads BS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BS_SERVER_ALLOW_ORIGINS"); v != "" {
		cfg.Server.AllowOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("BS_SERVER_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = limit
		}
	}
	if v := os.Getenv("BS_SERVER_TRUSTED_PROXIES"); v != "" {
		cfg.Server.TrustedProxies = strings.Split(v, ",")
	}
	if v := os.Getenv("BS_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("BS_INDEX_WATCH"); v != "" {
		if watch, err := strconv.ParseBool(v); err == nil {
			cfg.Index.Watch = watch
		}
	}
	if v := os.Getenv("BS_INDEX_SOURCE"); v != "" {
		cfg.Index.Source = v
	}
	if v := os.Getenv("BS_INDEX_SNAPSHOT_BACKEND"); v != "" {
		cfg.Index.SnapshotBackend = v
	}
	if v := os.Getenv("BS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("BS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("BS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("BS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("BS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("BS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("BS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("BS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("BS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("BS_BOLT_PATH"); v != "" {
		cfg.Bolt.Path = v
	}
	if v := os.Getenv("BS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
