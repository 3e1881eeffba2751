package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/retry"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.MaxMemoryItems != 100 {
		t.Errorf("Expected MaxMemoryItems to be 100, got %d", cfg.Cache.MaxMemoryItems)
	}
	if cfg.Cache.MaxMemorySize != "50MB" {
		t.Errorf("Expected MaxMemorySize to be 50MB, got %s", cfg.Cache.MaxMemorySize)
	}
	if !cfg.Cache.CompressionEnabled {
		t.Error("Expected compression to be enabled by default")
	}
	if cfg.Cache.FileTTL != 7*24*time.Hour {
		t.Errorf("Expected FileTTL to be 7 days, got %v", cfg.Cache.FileTTL)
	}
	if cfg.Store.Backend != store.BackendFile {
		t.Errorf("Expected file backend, got %s", cfg.Store.Backend)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration should be valid: %v", err)
	}
}

func TestToCacheConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Cache.Compression.MinSize = "1KB"
	cfg.Store.MaxAge = 48 * time.Hour

	cc, err := cfg.ToCacheConfig()
	if err != nil {
		t.Fatalf("ToCacheConfig failed: %v", err)
	}

	if cc.MaxMemorySize != 50*1024*1024 {
		t.Errorf("Expected 50MiB, got %d", cc.MaxMemorySize)
	}
	if cc.Codec.MinSize != 1024 {
		t.Errorf("Expected MinSize 1024, got %d", cc.Codec.MinSize)
	}
	if cc.Codec.Algorithm != "gzip" {
		t.Errorf("Expected gzip, got %s", cc.Codec.Algorithm)
	}
	if cc.DurableMaxAge != 48*time.Hour {
		t.Errorf("Expected DurableMaxAge 48h, got %v", cc.DurableMaxAge)
	}
	if cc.FilePriority != 2 || cc.ExpiryInterval != time.Minute {
		t.Errorf("Unexpected cache config: %+v", cc)
	}

	cfg.Cache.MaxMemorySize = "lots"
	if _, err := cfg.ToCacheConfig(); err == nil {
		t.Error("Expected error for invalid memory size")
	}
}

func TestToStoreConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Store.Backend = store.BackendS3
	cfg.Store.S3.Bucket = "sheets"

	sc := cfg.ToStoreConfig()
	if sc.Backend != store.BackendS3 || sc.S3.Bucket != "sheets" {
		t.Errorf("Unexpected store config: %+v", sc)
	}
	if sc.Timeout != 5*time.Second || !sc.Breaker.Enabled {
		t.Errorf("Expected timeout and breaker to carry over: %+v", sc)
	}
	if sc.Retry.MaxAttempts != 3 || sc.Retry.InitialDelay != 200*time.Millisecond {
		t.Errorf("Expected startup retry settings to carry over: %+v", sc.Retry)
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
global:
  log_level: DEBUG
  log_format: json
cache:
  max_memory_items: 250
  max_memory_size: 128MB
  compression:
    algorithm: zstd
  query_ttl: 15m
store:
  backend: postgres
  timeout: 2s
  postgres:
    dsn: postgres://localhost/sheets
    table: cache_records
`
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load config from file: %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" || cfg.Global.LogFormat != "json" {
		t.Errorf("Unexpected global section: %+v", cfg.Global)
	}
	if cfg.Cache.MaxMemoryItems != 250 || cfg.Cache.MaxMemorySize != "128MB" {
		t.Errorf("Unexpected cache section: %+v", cfg.Cache)
	}
	if cfg.Cache.Compression.Algorithm != "zstd" || cfg.Cache.QueryTTL != 15*time.Minute {
		t.Errorf("Unexpected compression or ttl: %+v", cfg.Cache)
	}
	if cfg.Store.Backend != store.BackendPostgres || cfg.Store.Timeout != 2*time.Second {
		t.Errorf("Unexpected store section: %+v", cfg.Store)
	}
	if cfg.Store.Postgres.DSN != "postgres://localhost/sheets" || cfg.Store.Postgres.Table != "cache_records" {
		t.Errorf("Unexpected postgres section: %+v", cfg.Store.Postgres)
	}

	// Unset fields keep their defaults.
	if cfg.Cache.FileTTL != 7*24*time.Hour {
		t.Errorf("Expected default FileTTL, got %v", cfg.Cache.FileTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Loaded configuration should be valid: %v", err)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("cache: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.LoadFromFile(bad); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SHEETCACHE_LOG_LEVEL", "WARN")
	t.Setenv("SHEETCACHE_MAX_MEMORY_ITEMS", "42")
	t.Setenv("SHEETCACHE_COMPRESSION_ENABLED", "false")
	t.Setenv("SHEETCACHE_QUERY_TTL", "90s")
	t.Setenv("SHEETCACHE_STORE_BACKEND", "s3")
	t.Setenv("SHEETCACHE_S3_BUCKET", "sheet-cache")
	t.Setenv("SHEETCACHE_API_ADDRESS", ":9000")
	t.Setenv("SHEETCACHE_STORE_RETRY_ATTEMPTS", "6")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("Failed to load config from env: %v", err)
	}

	if cfg.Global.LogLevel != "WARN" {
		t.Errorf("Expected LogLevel WARN, got %s", cfg.Global.LogLevel)
	}
	if cfg.Cache.MaxMemoryItems != 42 {
		t.Errorf("Expected MaxMemoryItems 42, got %d", cfg.Cache.MaxMemoryItems)
	}
	if cfg.Cache.CompressionEnabled {
		t.Error("Expected compression to be disabled")
	}
	if cfg.Cache.QueryTTL != 90*time.Second {
		t.Errorf("Expected QueryTTL 90s, got %v", cfg.Cache.QueryTTL)
	}
	if cfg.Store.Backend != "s3" || cfg.Store.S3.Bucket != "sheet-cache" {
		t.Errorf("Unexpected store section: %+v", cfg.Store)
	}
	if cfg.API.Address != ":9000" {
		t.Errorf("Expected API address :9000, got %s", cfg.API.Address)
	}
	if cfg.Store.Retry.MaxAttempts != 6 {
		t.Errorf("Expected 6 retry attempts, got %d", cfg.Store.Retry.MaxAttempts)
	}
}

func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("SHEETCACHE_MAX_MEMORY_ITEMS", "many")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err == nil {
		t.Error("Expected error for non-numeric MAX_MEMORY_ITEMS")
	}
	if cfg.Cache.MaxMemoryItems != 100 {
		t.Errorf("Invalid value should not be applied, got %d", cfg.Cache.MaxMemoryItems)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	content := "SHEETCACHE_STORE_DIR=/tmp/sheet-store\nSHEETCACHE_LOG_LEVEL=DEBUG\n"
	if err := os.WriteFile(envFile, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	// Process environment wins over the file.
	t.Setenv("SHEETCACHE_LOG_LEVEL", "ERROR")
	t.Cleanup(func() { os.Unsetenv("SHEETCACHE_STORE_DIR") })

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(envFile); err != nil {
		t.Fatalf("Failed to load env file: %v", err)
	}

	if cfg.Store.File.Directory != "/tmp/sheet-store" {
		t.Errorf("Expected directory from env file, got %s", cfg.Store.File.Directory)
	}
	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected process environment to win, got %s", cfg.Global.LogLevel)
	}

	if err := cfg.LoadFromEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("Expected error for explicit missing env file")
	}
}

func TestSaveToFile(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Cache.QueryTTL = 10 * time.Minute
	cfg.Store.S3.Bucket = "round-trip"

	configFile := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded := &Configuration{}
	if err := loaded.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if loaded.Global.LogLevel != "DEBUG" || loaded.Cache.QueryTTL != 10*time.Minute || loaded.Store.S3.Bucket != "round-trip" {
		t.Errorf("Saved configuration did not load back: %+v", loaded)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Configuration)
		wantErr bool
	}{
		{"defaults", func(*Configuration) {}, false},
		{"lowercase log level", func(c *Configuration) { c.Global.LogLevel = "debug" }, false},
		{"invalid log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, true},
		{"zero items", func(c *Configuration) { c.Cache.MaxMemoryItems = 0 }, true},
		{"bad memory size", func(c *Configuration) { c.Cache.MaxMemorySize = "big" }, true},
		{"zero memory size", func(c *Configuration) { c.Cache.MaxMemorySize = "0" }, true},
		{"bad min size", func(c *Configuration) { c.Cache.Compression.MinSize = "x" }, true},
		{"unknown algorithm", func(c *Configuration) { c.Cache.Compression.Algorithm = "lz4" }, true},
		{"brotli", func(c *Configuration) { c.Cache.Compression.Algorithm = "brotli" }, false},
		{"zero interval", func(c *Configuration) { c.Cache.ExpiryInterval = 0 }, true},
		{"negative ttl", func(c *Configuration) { c.Cache.QueryTTL = -time.Second }, true},
		{"unknown backend", func(c *Configuration) { c.Store.Backend = "redis" }, true},
		{"disabled backend", func(c *Configuration) { c.Store.Backend = store.BackendNone }, false},
		{"s3 without bucket", func(c *Configuration) { c.Store.Backend = store.BackendS3 }, true},
		{"postgres without dsn", func(c *Configuration) { c.Store.Backend = store.BackendPostgres }, true},
		{"negative retry attempts", func(c *Configuration) { c.Store.Retry.MaxAttempts = -1 }, true},
		{"retry defaults", func(c *Configuration) { c.Store.Retry = retry.Config{} }, false},
		{"metrics path", func(c *Configuration) { c.Metrics.Path = "metrics" }, true},
		{"api without address", func(c *Configuration) { c.API.Address = "" }, true},
		{"api disabled without address", func(c *Configuration) { c.API.Enabled = false; c.API.Address = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerConfig(t *testing.T) {
	cfg := NewDefault()
	cfg.Global.LogLevel = "warn"
	cfg.Global.LogFormat = "json"

	lc, err := cfg.LoggerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if lc.Level.String() != "WARN" {
		t.Errorf("Expected WARN, got %s", lc.Level)
	}

	cfg.Global.LogLevel = "nope"
	if _, err := cfg.LoggerConfig(); err == nil {
		t.Error("Expected error for invalid level")
	}
}
