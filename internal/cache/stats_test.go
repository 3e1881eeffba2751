package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
)

func TestHitRate(t *testing.T) {
	tests := []struct {
		hits, misses int64
		want         float64
	}{
		{0, 0, 0},
		{1, 0, 100},
		{0, 5, 0},
		{1, 1, 50},
		{2, 1, 66.67},
		{1, 2, 33.33},
		{7, 1, 87.5},
	}
	for _, tt := range tests {
		if got := hitRate(tt.hits, tt.misses); got != tt.want {
			t.Errorf("hitRate(%d, %d) = %v, want %v", tt.hits, tt.misses, got, tt.want)
		}
	}
}

func TestNextCompressionRatio(t *testing.T) {
	ratio := 0.0
	for _, observed := range []float64{0.8, 0.4, 0.6} {
		ratio = nextCompressionRatio(ratio, observed)
	}
	// ((0+0.8)/2 + 0.4)/2 = 0.4, (0.4+0.6)/2 = 0.5
	if ratio != 0.5 {
		t.Errorf("ratio = %v, want 0.5", ratio)
	}
}

func TestPersistAndLoadStats(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m1 := New(ctx, DefaultConfig(), WithStore(newFileStore(t, dir)))
	m1.Set(ctx, "k", "some compressible value value value")
	m1.Get(ctx, "k")
	m1.Get(ctx, "missing")
	m1.evict(1)
	want := m1.Stats()
	if err := m1.persistStats(ctx); err != nil {
		t.Fatalf("persistStats: %v", err)
	}
	if err := m1.Destroy(); err != nil {
		t.Fatal(err)
	}

	m2 := newTestManager(t, DefaultConfig(), WithStore(newFileStore(t, dir)))
	got := m2.Stats()
	if got.Hits != want.Hits || got.Misses != want.Misses || got.Evictions != want.Evictions {
		t.Errorf("loaded counters = %+v, want %+v", got, want)
	}
	if got.CompressionRatio != want.CompressionRatio {
		t.Errorf("loaded ratio = %v, want %v", got.CompressionRatio, want.CompressionRatio)
	}
	if got.MemoryItems != 0 {
		t.Error("memory usage is not persisted")
	}
}

// failingStatsStore fails the first failures writes to the stats collection.
type failingStatsStore struct {
	store.Store
	err      error
	failures int

	mu   sync.Mutex
	puts int
}

func (s *failingStatsStore) Put(ctx context.Context, collection string, rec *store.Record) error {
	if collection == store.CollectionStats {
		s.mu.Lock()
		s.puts++
		fail := s.puts <= s.failures
		s.mu.Unlock()
		if fail {
			return s.err
		}
	}
	return s.Store.Put(ctx, collection, rec)
}

func TestDestroyRetriesStatsFlush(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		err       error
		failures  int
		wantErr   bool
		wantPuts  int
		wantSaved bool
	}{
		{"transient write failure", cerrors.NewError(cerrors.ErrCodeStoreWrite, "disk busy"), 2, false, 3, true},
		{"persistent write failure", cerrors.NewError(cerrors.ErrCodeStoreWrite, "disk busy"), 10, true, 3, false},
		{"permanent failure", errors.New("read-only filesystem"), 1, true, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := &failingStatsStore{Store: newFileStore(t, dir), err: tt.err, failures: tt.failures}

			m1 := New(ctx, DefaultConfig(), WithStore(s))
			m1.Get(ctx, "missing")
			err := m1.Destroy()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Destroy error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.puts != tt.wantPuts {
				t.Errorf("stats writes = %d, want %d", s.puts, tt.wantPuts)
			}

			m2 := newTestManager(t, DefaultConfig(), WithStore(newFileStore(t, dir)))
			if saved := m2.Stats().Misses == 1; saved != tt.wantSaved {
				t.Errorf("stats saved = %v, want %v", saved, tt.wantSaved)
			}
		})
	}
}

func TestLoadStatsMergesPartialRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newFileStore(t, dir)
	data, _ := json.Marshal(map[string]any{"hits": 9})
	if err := s.Put(ctx, store.CollectionStats, &store.Record{Key: statsKey, Value: data}); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, DefaultConfig(), WithStore(s))
	got := m.Stats()
	if got.Hits != 9 || got.Misses != 0 || got.Evictions != 0 {
		t.Errorf("merged stats = %+v", got)
	}
}

func TestLoadStatsIgnoresGarbage(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t, t.TempDir())
	if err := s.Put(ctx, store.CollectionStats, &store.Record{Key: statsKey, Value: []byte("{not json")}); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, DefaultConfig(), WithStore(s))
	if got := m.Stats(); got != (Stats{}) {
		t.Errorf("stats = %+v, want zero", got)
	}
}

func TestPersistStatsMemoryOnly(t *testing.T) {
	m := newTestManager(t, DefaultConfig())
	if err := m.persistStats(context.Background()); err != nil {
		t.Errorf("persistStats without a durable tier = %v", err)
	}
}

func TestStatsMemoryUsage(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, DefaultConfig())

	m.Set(ctx, "a", "12345", WithCompression(false))
	m.Set(ctx, "b", []byte("123"), WithCompression(false))

	got := m.Stats()
	if got.MemoryItems != 2 || got.MemorySize != 8 {
		t.Errorf("memory usage = %d items / %d bytes", got.MemoryItems, got.MemorySize)
	}
}
