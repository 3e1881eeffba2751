package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/retry"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

// Collection names used by the cache.
const (
	CollectionData  = "dataCache"
	CollectionFile  = "fileCache"
	CollectionQuery = "queryCache"
	CollectionStats = "cacheStats"
)

// Collections lists every collection the cache opens.
var Collections = []string{CollectionData, CollectionFile, CollectionQuery, CollectionStats}

// Backend names accepted by Open.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// Record is the persisted form of a cache entry.
type Record struct {
	Key          string        `json:"key"`
	Value        []byte        `json:"value"`
	Compressed   bool          `json:"compressed"`
	Encoding     string        `json:"encoding,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
	TTL          time.Duration `json:"ttl"`
	Priority     int           `json:"priority"`
	Tags         []string      `json:"tags,omitempty"`
	Size         int64         `json:"size"`
	AccessCount  int64         `json:"accessCount"`
	LastAccessed time.Time     `json:"lastAccessed"`
	Type         string        `json:"type,omitempty"`
}

// Expired reports whether the record's TTL has elapsed at now.
func (r *Record) Expired(now time.Time) bool {
	return r.TTL > 0 && now.Sub(r.Timestamp) > r.TTL
}

// IndexField selects the secondary index used by Keys.
type IndexField int

const (
	ByTimestamp IndexField = iota
	ByAccess
)

// Query selects keys from a collection's secondary index, oldest first.
type Query struct {
	By IndexField
	// Before, when non-zero, keeps only keys whose indexed time is strictly earlier.
	Before time.Time
	// Limit caps the result; 0 means no limit.
	Limit int
}

// Store is a transactional key-value store partitioned into named collections.
// Get returns (nil, nil) when the key is absent.
type Store interface {
	Put(ctx context.Context, collection string, rec *Record) error
	Get(ctx context.Context, collection, key string) (*Record, error)
	Delete(ctx context.Context, collection, key string) error
	Clear(ctx context.Context, collection string) error
	Touch(ctx context.Context, collection, key string, at time.Time) error
	Keys(ctx context.Context, collection string, q Query) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures the durable backend.
type Config struct {
	Backend string
	Timeout time.Duration
	Breaker BreakerConfig
	// Retry governs the startup ping; zero values take retry.DefaultConfig.
	Retry    retry.Config
	File     FileConfig
	S3       S3Config
	Postgres PostgresConfig
}

// ErrUnavailable matches (via errors.Is) any error returned when the durable backend
// cannot be opened.
var ErrUnavailable = cerrors.NewError(cerrors.ErrCodeStoreUnavailable, "durable store unavailable")

// ErrClosed matches operations on a closed store.
var ErrClosed = cerrors.NewError(cerrors.ErrCodeCacheClosed, "store is closed")

func unavailable(backend string, cause error) error {
	return cerrors.Wrap(cause, cerrors.ErrCodeStoreUnavailable, "durable store unavailable").
		WithComponent("store").
		WithDetail("backend", backend)
}

func closedError(component string) error {
	return cerrors.NewError(cerrors.ErrCodeCacheClosed, "store is closed").WithComponent(component)
}

// Open builds the configured backend and pings it, retrying per cfg.Retry. Any
// failure, including an explicitly disabled backend, is reported as ErrUnavailable
// so the caller can fall back to memory-only operation.
func Open(ctx context.Context, cfg *Config, logger *utils.StructuredLogger) (Store, error) {
	if cfg == nil {
		cfg = &Config{Backend: BackendFile, File: FileConfig{Directory: defaultFileDirectory}}
	}
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		s   Store
		err error
	)
	switch backend {
	case BackendFile, "":
		backend = BackendFile
		s, err = NewFileStore(&cfg.File, logger)
	case BackendS3:
		s, err = NewS3Store(ctx, &cfg.S3, logger)
	case BackendPostgres:
		s, err = NewPostgresStore(ctx, &cfg.Postgres, logger)
	case BackendNone:
		err = fmt.Errorf("durable tier disabled by configuration")
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, unavailable(backend, err)
	}

	if err := pingWithRetry(ctx, s, backend, cfg, logger); err != nil {
		_ = s.Close()
		return nil, unavailable(backend, err)
	}

	return Guard(s, GuardConfig{Name: backend, Timeout: cfg.Timeout, Breaker: cfg.Breaker}, logger), nil
}

// pingWithRetry pings s until it answers, backing off between attempts. Each attempt gets
// its own cfg.Timeout.
func pingWithRetry(ctx context.Context, s Store, backend string, cfg *Config, logger *utils.StructuredLogger) error {
	r := retry.New(cfg.Retry).WithOnRetry(func(attempt int, err error, delay time.Duration) {
		logger.Warn("durable store not ready, retrying", map[string]interface{}{
			"backend": backend,
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   err,
		})
	})

	return r.Do(ctx, func(ctx context.Context) error {
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		if err := s.Ping(ctx); err != nil {
			return cerrors.Wrap(err, cerrors.ErrCodeStoreUnavailable, "ping failed").
				WithComponent("store").
				WithOperation("ping")
		}
		return nil
	})
}

func validateCollection(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return cerrors.NewError(cerrors.ErrCodeValidationFailed, "invalid collection name").
			WithContext("collection", name)
	}
	return nil
}
