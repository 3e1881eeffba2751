package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/cache"
	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/retry"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "SHEETCACHE_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Cache   CacheConfig   `yaml:"cache"`
	Store   StoreConfig   `yaml:"store"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// LogFile switches output from stdout to a rotated file.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int64  `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// CacheConfig represents the in-memory tier and codec settings
type CacheConfig struct {
	MaxMemoryItems     int               `yaml:"max_memory_items"`
	MaxMemorySize      string            `yaml:"max_memory_size"`
	CompressionEnabled bool              `yaml:"compression_enabled"`
	Compression        CompressionConfig `yaml:"compression"`

	PressureInterval  time.Duration `yaml:"pressure_interval"`
	ExpiryInterval    time.Duration `yaml:"expiry_interval"`
	StatsSyncInterval time.Duration `yaml:"stats_sync_interval"`

	FileTTL      time.Duration `yaml:"file_ttl"`
	FilePriority int           `yaml:"file_priority"`
	QueryTTL     time.Duration `yaml:"query_ttl"`
}

// CompressionConfig represents compression settings
type CompressionConfig struct {
	Algorithm string `yaml:"algorithm"`
	Level     int    `yaml:"level"`
	MinSize   string `yaml:"min_size"`
}

// StoreConfig represents the durable tier
type StoreConfig struct {
	Backend string        `yaml:"backend"`
	Timeout time.Duration `yaml:"timeout"`
	// MaxAge compacts durable records older than this; 0 keeps them until their TTL.
	MaxAge   time.Duration        `yaml:"max_age"`
	Breaker  store.BreakerConfig  `yaml:"circuit_breaker"`
	Retry    retry.Config         `yaml:"retry"`
	File     store.FileConfig     `yaml:"file"`
	S3       store.S3Config       `yaml:"s3"`
	Postgres store.PostgresConfig `yaml:"postgres"`
}

// MetricsConfig represents Prometheus settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Path      string `yaml:"path"`
}

// APIConfig represents the admin HTTP API
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

var (
	validAlgorithms = []string{"gzip", "zstd", "brotli", "br", "rle"}
	validBackends   = []string{store.BackendFile, store.BackendS3, store.BackendPostgres, store.BackendNone}
)

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
		},
		Cache: CacheConfig{
			MaxMemoryItems:     100,
			MaxMemorySize:      "50MB",
			CompressionEnabled: true,
			Compression: CompressionConfig{
				Algorithm: "gzip",
				MinSize:   "0",
			},
			PressureInterval:  10 * time.Second,
			ExpiryInterval:    60 * time.Second,
			StatsSyncInterval: 30 * time.Second,
			FileTTL:           7 * 24 * time.Hour,
			FilePriority:      2,
		},
		Store: StoreConfig{
			Backend: store.BackendFile,
			Timeout: 5 * time.Second,
			Breaker: store.BreakerConfig{
				Enabled:          true,
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
			Retry: retry.DefaultConfig(),
			File: store.FileConfig{
				Directory:    "./.sheetcache",
				MaxSize:      1 << 30,
				SyncInterval: time.Minute,
			},
			S3: store.S3Config{
				Prefix:               "sheetcache",
				Region:               "us-east-1",
				MaxRetries:           3,
				LargeObjectThreshold: 8 << 20,
			},
			Postgres: store.PostgresConfig{
				Table:        "sheetcache_records",
				MaxOpenConns: 10,
				MaxIdleConns: 2,
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "sheetcache",
			Path:      "/metrics",
		},
		API: APIConfig{
			Enabled:      true,
			Address:      "127.0.0.1:8090",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies SHEETCACHE_* environment variables. Variables from the given
// .env files, or ./.env when none are given, are loaded first without overriding
// variables already set in the process environment.
func (c *Configuration) LoadFromEnv(envFiles ...string) error {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	e := envReader{}

	// Global settings
	e.str("LOG_LEVEL", &c.Global.LogLevel)
	e.str("LOG_FORMAT", &c.Global.LogFormat)
	e.str("LOG_FILE", &c.Global.LogFile)

	// Cache settings
	e.integer("MAX_MEMORY_ITEMS", &c.Cache.MaxMemoryItems)
	e.str("MAX_MEMORY_SIZE", &c.Cache.MaxMemorySize)
	e.boolean("COMPRESSION_ENABLED", &c.Cache.CompressionEnabled)
	e.str("COMPRESSION_ALGORITHM", &c.Cache.Compression.Algorithm)
	e.duration("FILE_TTL", &c.Cache.FileTTL)
	e.duration("QUERY_TTL", &c.Cache.QueryTTL)

	// Store settings
	e.str("STORE_BACKEND", &c.Store.Backend)
	e.duration("STORE_TIMEOUT", &c.Store.Timeout)
	e.duration("STORE_MAX_AGE", &c.Store.MaxAge)
	e.integer("STORE_RETRY_ATTEMPTS", &c.Store.Retry.MaxAttempts)
	e.str("STORE_DIR", &c.Store.File.Directory)
	e.str("S3_BUCKET", &c.Store.S3.Bucket)
	e.str("S3_PREFIX", &c.Store.S3.Prefix)
	e.str("S3_REGION", &c.Store.S3.Region)
	e.str("S3_ENDPOINT", &c.Store.S3.Endpoint)
	e.boolean("S3_FORCE_PATH_STYLE", &c.Store.S3.ForcePathStyle)
	e.str("POSTGRES_DSN", &c.Store.Postgres.DSN)

	// Metrics and API
	e.boolean("METRICS_ENABLED", &c.Metrics.Enabled)
	e.boolean("API_ENABLED", &c.API.Enabled)
	e.str("API_ADDRESS", &c.API.Address)

	return e.err
}

// envReader applies SHEETCACHE_* variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) lookup(name string) (string, bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return "", false
	}
	return val, true
}

func (e *envReader) fail(name, val string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, name, val, err)
	}
}

func (e *envReader) str(name string, dst *string) {
	if val, ok := e.lookup(name); ok {
		*dst = val
	}
}

func (e *envReader) integer(name string, dst *int) {
	if val, ok := e.lookup(name); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) boolean(name string, dst *bool) {
	if val, ok := e.lookup(name); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(name string, dst *time.Duration) {
	if val, ok := e.lookup(name); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(name, val, err)
			return
		}
		*dst = d
	}
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}

	if c.Cache.MaxMemoryItems <= 0 {
		return fmt.Errorf("max_memory_items must be greater than 0")
	}
	if size, err := utils.ParseBytes(c.Cache.MaxMemorySize); err != nil || size <= 0 {
		return fmt.Errorf("invalid max_memory_size: %q", c.Cache.MaxMemorySize)
	}
	if c.Cache.Compression.MinSize != "" {
		if _, err := utils.ParseBytes(c.Cache.Compression.MinSize); err != nil {
			return fmt.Errorf("invalid compression min_size: %q", c.Cache.Compression.MinSize)
		}
	}
	if !oneOf(strings.ToLower(c.Cache.Compression.Algorithm), validAlgorithms) {
		return fmt.Errorf("invalid compression algorithm: %s (must be one of: %s)",
			c.Cache.Compression.Algorithm, strings.Join(validAlgorithms, ", "))
	}
	if c.Cache.PressureInterval <= 0 || c.Cache.ExpiryInterval <= 0 || c.Cache.StatsSyncInterval <= 0 {
		return fmt.Errorf("cache intervals must be greater than 0")
	}
	if c.Cache.FileTTL < 0 || c.Cache.QueryTTL < 0 {
		return fmt.Errorf("ttl values must not be negative")
	}

	if !oneOf(c.Store.Backend, validBackends) {
		return fmt.Errorf("invalid store backend: %s (must be one of: %s)",
			c.Store.Backend, strings.Join(validBackends, ", "))
	}
	if c.Store.Timeout < 0 || c.Store.MaxAge < 0 {
		return fmt.Errorf("store timeout and max_age must not be negative")
	}
	if r := c.Store.Retry; r.MaxAttempts < 0 || r.InitialDelay < 0 || r.MaxDelay < 0 || r.Multiplier < 0 {
		return fmt.Errorf("store retry settings must not be negative")
	}
	switch c.Store.Backend {
	case store.BackendS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires a bucket")
		}
	case store.BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires a dsn")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /: %q", c.Metrics.Path)
	}
	if c.API.Enabled && c.API.Address == "" {
		return fmt.Errorf("api address is required when the api is enabled")
	}

	return nil
}

// ToCacheConfig converts the cache and store sections into a cache.Config.
func (c *Configuration) ToCacheConfig() (cache.Config, error) {
	size, err := utils.ParseBytes(c.Cache.MaxMemorySize)
	if err != nil {
		return cache.Config{}, fmt.Errorf("max_memory_size: %w", err)
	}

	var minSize int64
	if c.Cache.Compression.MinSize != "" {
		if minSize, err = utils.ParseBytes(c.Cache.Compression.MinSize); err != nil {
			return cache.Config{}, fmt.Errorf("compression min_size: %w", err)
		}
	}

	return cache.Config{
		MaxMemoryItems:     c.Cache.MaxMemoryItems,
		MaxMemorySize:      size,
		CompressionEnabled: c.Cache.CompressionEnabled,
		Codec: cache.CodecConfig{
			Algorithm: c.Cache.Compression.Algorithm,
			Level:     c.Cache.Compression.Level,
			MinSize:   int(minSize),
		},
		PressureInterval:  c.Cache.PressureInterval,
		ExpiryInterval:    c.Cache.ExpiryInterval,
		StatsSyncInterval: c.Cache.StatsSyncInterval,
		FileTTL:           c.Cache.FileTTL,
		FilePriority:      c.Cache.FilePriority,
		QueryTTL:          c.Cache.QueryTTL,
		DurableMaxAge:     c.Store.MaxAge,
	}, nil
}

// ToStoreConfig converts the store section into a store.Config.
func (c *Configuration) ToStoreConfig() *store.Config {
	return &store.Config{
		Backend:  c.Store.Backend,
		Timeout:  c.Store.Timeout,
		Breaker:  c.Store.Breaker,
		Retry:    c.Store.Retry,
		File:     c.Store.File,
		S3:       c.Store.S3,
		Postgres: c.Store.Postgres,
	}
}

// LoggerConfig builds the structured logger settings from the global section.
func (c *Configuration) LoggerConfig() (*utils.StructuredLoggerConfig, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg := utils.DefaultStructuredLoggerConfig()
	cfg.Level = level
	cfg.Format = utils.ParseLogFormat(c.Global.LogFormat)
	return cfg, nil
}

func oneOf(v string, options []string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
