package cache

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
)

const statsKey = "stats"

// Stats is a snapshot of cache statistics.
type Stats struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	CompressionRatio float64 `json:"compressionRatio"`
	HitRate          float64 `json:"hitRate"`
	MemoryItems      int     `json:"memoryItems"`
	MemorySize       int64   `json:"memorySize"`
}

// counters are the statistics persisted across sessions.
type counters struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Evictions        int64   `json:"evictions"`
	CompressionRatio float64 `json:"compressionRatio"`
}

type persistedStats struct {
	counters
	Instance  string    `json:"instance"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// hitRate is hits/(hits+misses) as a percentage rounded to two decimals.
func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return math.Round(float64(hits)/float64(total)*100*100) / 100
}

// nextCompressionRatio folds one observation into the running ratio.
func nextCompressionRatio(current, ratio float64) float64 {
	return (current + ratio) / 2
}

// Stats returns the current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		Hits:             m.stats.Hits,
		Misses:           m.stats.Misses,
		Evictions:        m.stats.Evictions,
		CompressionRatio: m.stats.CompressionRatio,
		HitRate:          hitRate(m.stats.Hits, m.stats.Misses),
		MemoryItems:      m.memory.len(),
		MemorySize:       m.memory.aggregateSize(),
	}
}

func (m *Manager) updateCompressionRatio(ratio float64) {
	m.mu.Lock()
	m.stats.CompressionRatio = nextCompressionRatio(m.stats.CompressionRatio, ratio)
	current := m.stats.CompressionRatio
	m.mu.Unlock()
	m.metrics.SetCompressionRatio(current)
}

// loadStats merges persisted counters over the zero defaults.
func (m *Manager) loadStats(ctx context.Context) {
	rec, ok := m.storeGet(ctx, store.CollectionStats, statsKey)
	if !ok {
		return
	}

	m.mu.Lock()
	loaded := persistedStats{counters: m.stats}
	err := json.Unmarshal(rec.Value, &loaded)
	if err == nil {
		m.stats = loaded.counters
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("ignoring unreadable persisted statistics", map[string]interface{}{"error": err})
		return
	}
	m.logger.Debug("loaded persisted statistics", map[string]interface{}{
		"hits":           loaded.Hits,
		"misses":         loaded.Misses,
		"from_instance":  loaded.Instance,
		"last_persisted": loaded.UpdatedAt,
	})
}

// persistStats writes the counters to the stats collection.
func (m *Manager) persistStats(ctx context.Context) error {
	if !m.durableReady() {
		return nil
	}

	now := m.now()
	m.mu.Lock()
	snapshot := persistedStats{counters: m.stats, Instance: m.instanceID, UpdatedAt: now}
	m.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	start := time.Now()
	err = m.durable.Put(ctx, store.CollectionStats, &store.Record{
		Key:       statsKey,
		Value:     data,
		Timestamp: now,
		Size:      int64(len(data)),
		Type:      statsKey,
	})
	m.metrics.RecordStoreOperation("put", store.CollectionStats, time.Since(start), err)
	if err != nil {
		m.logger.Warn("failed to persist statistics", map[string]interface{}{"error": err})
	}
	return err
}
