//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreIntegration(t *testing.T) {
	dsn := os.Getenv("SHEETCACHE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SHEETCACHE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	table := fmt.Sprintf("sheetcache_test_%d", time.Now().UnixNano())
	s, err := NewPostgresStore(ctx, &PostgresConfig{DSN: dsn, Table: table}, nil)
	require.NoError(t, err)
	defer func() {
		_, _ = s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		_ = s.Close()
	}()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := record("r1", base)
	rec.TTL = time.Minute
	require.NoError(t, s.Put(ctx, CollectionData, rec))
	require.NoError(t, s.Put(ctx, CollectionData, record("r2", base.Add(time.Hour))))

	got, err := s.Get(ctx, CollectionData, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Value, got.Value)
	assert.Equal(t, time.Minute, got.TTL)
	assert.Equal(t, []string{"sheet"}, got.Tags)
	assert.True(t, got.LastAccessed.IsZero())

	require.NoError(t, s.Touch(ctx, CollectionData, "r1", base.Add(2*time.Hour)))
	keys, err := s.Keys(ctx, CollectionData, Query{By: ByAccess})
	require.NoError(t, err)
	assert.Equal(t, []string{"r2", "r1"}, keys)

	keys, err = s.Keys(ctx, CollectionData, Query{By: ByTimestamp, Before: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, keys)

	require.NoError(t, s.Delete(ctx, CollectionData, "r1"))
	got, err = s.Get(ctx, CollectionData, "r1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.Clear(ctx, CollectionData))
	keys, err = s.Keys(ctx, CollectionData, Query{})
	require.NoError(t, err)
	assert.Empty(t, keys)
}
