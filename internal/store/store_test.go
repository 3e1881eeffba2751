package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/retry"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0600))

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"file", &Config{Backend: BackendFile, File: FileConfig{Directory: t.TempDir()}}, false},
		{"default backend", &Config{File: FileConfig{Directory: t.TempDir()}}, false},
		{"disabled", &Config{Backend: BackendNone}, true},
		{"unknown", &Config{Backend: "indexeddb"}, true},
		{"s3 without bucket", &Config{Backend: BackendS3}, true},
		{"postgres without dsn", &Config{Backend: BackendPostgres}, true},
		{"unusable directory", &Config{Backend: BackendFile, File: FileConfig{Directory: filepath.Join(blocked, "sub")}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Open(ctx, tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			assert.NoError(t, s.Ping(ctx))
			assert.NoError(t, s.Close())
		})
	}
}

func TestPingWithRetry(t *testing.T) {
	fast := retry.Config{MaxAttempts: 4, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}

	tests := []struct {
		name      string
		store     *flakyStore
		timeout   time.Duration
		retry     retry.Config
		wantErr   bool
		wantCalls int
	}{
		{"ready", &flakyStore{}, 0, fast, false, 1},
		{"ready after two failures", &flakyStore{failFirst: 2}, 0, fast, false, 3},
		{"never ready", &flakyStore{failing: true}, 0, fast, true, 4},
		{"every attempt times out", &flakyStore{delay: time.Second}, 5 * time.Millisecond, fast, true, 4},
		{"retries disabled", &flakyStore{failFirst: 1}, 0, retry.Config{MaxAttempts: 1}, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Timeout: tt.timeout, Retry: tt.retry}
			err := pingWithRetry(context.Background(), tt.store, "test", cfg, utils.NewNopLogger())
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, cerrors.ErrCodeStoreUnavailable, cerrors.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, tt.store.calls)
		})
	}
}

func TestRecordExpired(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ttl  time.Duration
		now  time.Time
		want bool
	}{
		{"no ttl", 0, ts.Add(24 * time.Hour), false},
		{"within ttl", time.Second, ts.Add(time.Second), false},
		{"past ttl", time.Second, ts.Add(1001 * time.Millisecond), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{Timestamp: ts, TTL: tt.ttl}
			assert.Equal(t, tt.want, r.Expired(tt.now))
		})
	}
}

func TestValidateCollection(t *testing.T) {
	for _, name := range Collections {
		assert.NoError(t, validateCollection(name))
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.Error(t, validateCollection(name), name)
	}
}
