package cache

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/multierr"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
	cerrors "github.com/tommygoverstreet/smart-spreadsheet2025/pkg/errors"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/retry"
	"github.com/tommygoverstreet/smart-spreadsheet2025/pkg/utils"
)

const (
	fileKeyPrefix  = "file:"
	queryKeyPrefix = "query:"
	fileTag        = "file"
	queryTag       = "query"

	destroyTimeout = 5 * time.Second
)

// Config holds the cache limits, intervals and compression settings.
type Config struct {
	MaxMemoryItems     int
	MaxMemorySize      int64
	CompressionEnabled bool
	Codec              CodecConfig

	PressureInterval  time.Duration
	ExpiryInterval    time.Duration
	StatsSyncInterval time.Duration

	FileTTL      time.Duration
	FilePriority int
	QueryTTL     time.Duration
	// DurableMaxAge removes durable records older than this during the expiry
	// sweep; 0 disables compaction.
	DurableMaxAge time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxMemoryItems:     100,
		MaxMemorySize:      50 * 1024 * 1024,
		CompressionEnabled: true,
		Codec:              CodecConfig{Algorithm: EncodingGzip},
		PressureInterval:   10 * time.Second,
		ExpiryInterval:     60 * time.Second,
		StatsSyncInterval:  30 * time.Second,
		FileTTL:            7 * 24 * time.Hour,
		FilePriority:       2,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxMemoryItems <= 0 {
		c.MaxMemoryItems = d.MaxMemoryItems
	}
	if c.MaxMemorySize <= 0 {
		c.MaxMemorySize = d.MaxMemorySize
	}
	if c.PressureInterval <= 0 {
		c.PressureInterval = d.PressureInterval
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = d.ExpiryInterval
	}
	if c.StatsSyncInterval <= 0 {
		c.StatsSyncInterval = d.StatsSyncInterval
	}
	if c.FileTTL <= 0 {
		c.FileTTL = d.FileTTL
	}
	if c.FilePriority == 0 {
		c.FilePriority = d.FilePriority
	}
	return c
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	store    store.Store
	storeErr error
	logger   *utils.StructuredLogger
	metrics  MetricsRecorder
	now      func() time.Time
}

// WithStore sets the durable tier. Without one the manager runs memory-only.
func WithStore(s store.Store) ManagerOption {
	return func(o *managerOptions) { o.store = s }
}

// WithLogger sets the logger.
func WithLogger(logger *utils.StructuredLogger) ManagerOption {
	return func(o *managerOptions) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder MetricsRecorder) ManagerOption {
	return func(o *managerOptions) { o.metrics = recorder }
}

// WithClock replaces time.Now for timestamps, TTL checks and recency.
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) { o.now = now }
}

func withStoreError(err error) ManagerOption {
	return func(o *managerOptions) { o.storeErr = err }
}

func collectOptions(opts []ManagerOption) managerOptions {
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = utils.NewNopLogger()
	}
	if o.metrics == nil {
		o.metrics = nopRecorder{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// ComputeFunc produces a value on a cache miss.
type ComputeFunc func(ctx context.Context) (any, error)

// Capabilities is the immutable result of the construction-time probes.
type Capabilities struct {
	Compression       string `json:"compression"`
	NativeCompression bool   `json:"nativeCompression"`
	Durable           bool   `json:"durable"`
}

// Manager is the two-tier cache: an in-memory tier in front of an optional
// durable store. Infrastructure failures never reach callers; they degrade to
// misses or skipped persistence and are logged.
type Manager struct {
	config     Config
	codec      *Codec
	durable    store.Store
	logger     *utils.StructuredLogger
	metrics    MetricsRecorder
	now        func() time.Time
	instanceID string

	mu     sync.Mutex
	memory *memoryTier
	stats  counters

	stopCh    chan struct{}
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open opens the configured durable store and builds a Manager over it. If the
// store cannot be opened the manager runs memory-only.
func Open(ctx context.Context, cfg Config, storeCfg *store.Config, opts ...ManagerOption) *Manager {
	o := collectOptions(opts)
	s, err := store.Open(ctx, storeCfg, o.logger)
	if err != nil {
		return New(ctx, cfg, append(opts, withStoreError(err))...)
	}
	return New(ctx, cfg, append(opts, WithStore(s))...)
}

// New builds a Manager, loads persisted statistics and starts the pressure,
// expiry and stats sync loops. Call Destroy to stop them.
func New(ctx context.Context, cfg Config, opts ...ManagerOption) *Manager {
	o := collectOptions(opts)
	cfg = cfg.withDefaults()
	instanceID := uuid.NewString()

	bgCtx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		config:     cfg,
		codec:      NewCodec(cfg.Codec),
		durable:    o.store,
		logger:     o.logger.WithComponent("cache").WithField("instance", instanceID),
		metrics:    o.metrics,
		now:        o.now,
		instanceID: instanceID,
		memory:     newMemoryTier(),
		stopCh:     make(chan struct{}),
		bgCtx:      bgCtx,
		bgCancel:   cancel,
	}

	if m.durable == nil {
		fields := map[string]interface{}{}
		if o.storeErr != nil {
			fields["error"] = o.storeErr
		}
		m.logger.Warn("durable store unavailable, running memory-only", fields)
	} else {
		m.loadStats(ctx)
	}
	if !m.codec.Native() {
		m.logger.Info("native compression unavailable, using run-length fallback", map[string]interface{}{
			"algorithm": cfg.Codec.Algorithm,
		})
	}

	m.wg.Add(3)
	go m.loop(cfg.PressureInterval, func(context.Context) { m.checkMemoryPressure() })
	go m.loop(cfg.ExpiryInterval, func(ctx context.Context) { m.sweepExpired(ctx) })
	go m.loop(cfg.StatsSyncInterval, func(ctx context.Context) { _ = m.persistStats(ctx) })

	return m
}

// InstanceID identifies this manager in logs and persisted statistics.
func (m *Manager) InstanceID() string {
	return m.instanceID
}

// Capabilities reports the compression algorithm in use and whether the durable
// tier is available.
func (m *Manager) Capabilities() Capabilities {
	return Capabilities{
		Compression:       m.codec.Encoding(),
		NativeCompression: m.codec.Native(),
		Durable:           m.durableReady(),
	}
}

// Get returns the value for key. The boolean distinguishes a cached nil from a miss.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	return m.get(ctx, key, collectionFor(key))
}

// collectionFor maps a key to the durable collection that holds it.
func collectionFor(key string) string {
	switch {
	case strings.HasPrefix(key, fileKeyPrefix):
		return store.CollectionFile
	case strings.HasPrefix(key, queryKeyPrefix):
		return store.CollectionQuery
	default:
		return store.CollectionData
	}
}

// GetAs returns the value for key converted to T. Values read back from the
// durable tier or from compressed entries are JSON-generic and are converted by
// re-encoding; a value that does not convert is reported as absent.
func GetAs[T any](ctx context.Context, m *Manager, key string) (T, bool) {
	var zero T
	v, ok := m.Get(ctx, key)
	if !ok {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	data, err := json.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

func (m *Manager) get(ctx context.Context, key, collection string) (any, bool) {
	now := m.now()

	m.mu.Lock()
	if e, ok := m.memory.get(key); ok {
		if e.Expired(now) {
			m.memory.delete(key)
			m.stats.Misses++
			m.mu.Unlock()

			m.metrics.RecordExpiration(1)
			m.metrics.RecordRequest("miss", SourceMemory)
			m.storeDelete(ctx, e.collection, key)
			return nil, false
		}
		snapshot := *e
		m.mu.Unlock()

		value, err := m.decodeEntry(&snapshot)
		if err != nil {
			m.dropUnreadable(ctx, key, e.collection, err)
			return nil, false
		}

		m.mu.Lock()
		e.AccessCount++
		e.LastAccessed = now
		m.stats.Hits++
		m.mu.Unlock()
		m.metrics.RecordRequest("hit", SourceMemory)
		return value, true
	}
	m.mu.Unlock()

	rec, ok := m.storeGet(ctx, collection, key)
	if !ok {
		m.recordMiss()
		return nil, false
	}
	if rec.Expired(now) {
		m.storeDelete(ctx, collection, key)
		m.metrics.RecordExpiration(1)
		m.recordMiss()
		return nil, false
	}

	e, value, err := m.promote(key, collection, rec, now)
	if err != nil {
		m.dropUnreadable(ctx, key, collection, err)
		return nil, false
	}

	m.mu.Lock()
	m.memory.put(e)
	m.stats.Hits++
	m.mu.Unlock()
	m.metrics.RecordRequest("hit", SourceDurable)

	m.storeTouch(ctx, collection, key, now)
	m.checkMemoryPressure()
	return value, true
}

// promote rebuilds a memory entry from a durable record.
func (m *Manager) promote(key, collection string, rec *store.Record, now time.Time) (*Entry, any, error) {
	e := &Entry{
		Key:          key,
		Compressed:   rec.Compressed,
		Encoding:     rec.Encoding,
		Timestamp:    rec.Timestamp,
		TTL:          rec.TTL,
		Priority:     rec.Priority,
		Tags:         rec.Tags,
		Size:         rec.Size,
		AccessCount:  rec.AccessCount + 1,
		LastAccessed: now,
		collection:   collection,
		typ:          rec.Type,
	}

	if rec.Compressed {
		value, err := m.codec.Decompress(rec.Value, rec.Encoding)
		if err != nil {
			return nil, nil, err
		}
		e.Data = rec.Value
		return e, value, nil
	}

	var value any
	if err := json.Unmarshal(rec.Value, &value); err != nil {
		return nil, nil, err
	}
	e.Value = value
	e.raw = rec.Value
	return e, value, nil
}

func (m *Manager) decodeEntry(e *Entry) (any, error) {
	if !e.Compressed {
		return e.Value, nil
	}
	return m.codec.Decompress(e.Data, e.Encoding)
}

// dropUnreadable removes an entry whose payload cannot be decoded and counts a miss.
func (m *Manager) dropUnreadable(ctx context.Context, key, collection string, err error) {
	m.logger.Warn("dropping unreadable cache entry", map[string]interface{}{
		"key":   key,
		"error": err,
	})
	m.metrics.RecordCodecFailure("decode")

	m.mu.Lock()
	m.memory.delete(key)
	m.mu.Unlock()
	m.storeDelete(ctx, collection, key)
	m.recordMiss()
}

func (m *Manager) recordMiss() {
	m.mu.Lock()
	m.stats.Misses++
	m.mu.Unlock()
	m.metrics.RecordRequest("miss", SourceNone)
}

// Set stores value under key in both tiers and runs the eviction check. It always
// returns true; persistence failures are logged.
func (m *Manager) Set(ctx context.Context, key string, value any, opts ...Option) bool {
	o := applyOptions(key, opts)
	e := m.buildEntry(key, value, o)

	m.mu.Lock()
	m.memory.put(e)
	m.mu.Unlock()

	if rec := e.record(); rec != nil {
		m.storePut(ctx, o.collection, rec)
	}
	m.checkMemoryPressure()
	return true
}

func (m *Manager) buildEntry(key string, value any, o setOptions) *Entry {
	e := &Entry{
		Key:        key,
		Timestamp:  m.now(),
		TTL:        o.ttl,
		Priority:   o.priority,
		Tags:       append([]string(nil), o.tags...),
		collection: o.collection,
		typ:        o.typ,
	}

	raw, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn("value is not serializable, keeping it in memory only", map[string]interface{}{
			"key":   key,
			"error": err,
		})
		m.metrics.RecordCodecFailure("encode")
		e.Value = value
		e.Size = estimateSize(value, nil)
		return e
	}
	e.raw = raw
	e.Size = estimateSize(value, raw)

	compress := m.config.CompressionEnabled
	if o.compress != nil {
		compress = *o.compress
	}
	if compress {
		p, err := m.codec.Encode(raw)
		switch {
		case err != nil:
			m.logger.Warn("compression failed, storing raw value", map[string]interface{}{
				"key":   key,
				"error": err,
			})
			m.metrics.RecordCodecFailure("encode")
		case p != nil:
			e.Compressed = true
			e.Encoding = p.Encoding
			e.Data = p.Data
			e.raw = nil
			if p.Native() {
				m.updateCompressionRatio(p.Ratio())
			}
		}
	}
	if !e.Compressed {
		e.Value = value
	}
	return e
}

// estimateSize is the byte length of strings and byte slices and the length of the
// JSON encoding for everything else. Unserializable values count as 0.
func estimateSize(value any, raw []byte) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	}
	return int64(len(raw))
}

// Delete removes key from both tiers. Deleting an absent key is a no-op.
func (m *Manager) Delete(ctx context.Context, key string) bool {
	m.mu.Lock()
	e, ok := m.memory.delete(key)
	m.mu.Unlock()

	collection := collectionFor(key)
	if ok {
		collection = e.collection
	}
	m.storeDelete(ctx, collection, key)
	return true
}

// Clear empties the memory tier and the data collection and resets statistics.
func (m *Manager) Clear(ctx context.Context) {
	m.mu.Lock()
	m.memory.clear()
	m.stats = counters{}
	m.mu.Unlock()

	m.storeClear(ctx, store.CollectionData)
	_ = m.persistStats(ctx)
	m.metrics.SetMemoryUsage(0, 0)
	m.metrics.SetCompressionRatio(0)
}

// GetOrCompute returns the cached value for key, or calls fn and caches its result.
// Errors from fn are returned unchanged and nothing is cached. Concurrent misses on
// the same key each call fn; the last Set wins.
func (m *Manager) GetOrCompute(ctx context.Context, key string, fn ComputeFunc, opts ...Option) (any, error) {
	if v, ok := m.Get(ctx, key); ok {
		return v, nil
	}
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	m.Set(ctx, key, v, opts...)
	return v, nil
}

// SetBatch sets every item concurrently and returns the results in input order.
func (m *Manager) SetBatch(ctx context.Context, items []BatchItem) []bool {
	return iter.Map(items, func(item *BatchItem) bool {
		return m.Set(ctx, item.Key, item.Value, item.Options...)
	})
}

// GetBatch looks up every key concurrently and returns the results in input order.
func (m *Manager) GetBatch(ctx context.Context, keys []string) []Lookup {
	return iter.Map(keys, func(key *string) Lookup {
		v, ok := m.Get(ctx, *key)
		return Lookup{Key: *key, Value: v, Found: ok}
	})
}

// InvalidateByTag deletes every in-memory entry carrying tag from both tiers and
// returns how many were removed. Records that exist only in the durable tier are
// not found.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) int {
	m.mu.Lock()
	var victims []*Entry
	for _, e := range m.memory.entries() {
		if e.HasTag(tag) {
			m.memory.delete(e.Key)
			victims = append(victims, e)
		}
	}
	m.mu.Unlock()

	for _, e := range victims {
		m.storeDelete(ctx, e.collection, e.Key)
	}
	if len(victims) > 0 {
		m.logger.Debug("invalidated entries by tag", map[string]interface{}{
			"tag":   tag,
			"count": len(victims),
		})
	}
	return len(victims)
}

// CacheFile stores a file blob under file:<id> with the file TTL and priority.
func (m *Manager) CacheFile(ctx context.Context, id string, blob []byte) bool {
	return m.Set(ctx, fileKeyPrefix+id, blob,
		WithTTL(m.config.FileTTL),
		WithPriority(m.config.FilePriority),
		WithTags(fileTag),
		inCollection(store.CollectionFile),
		withType(fileTag))
}

// GetCachedFile returns a blob stored by CacheFile.
func (m *Manager) GetCachedFile(ctx context.Context, id string) ([]byte, bool) {
	v, ok := m.get(ctx, fileKeyPrefix+id, store.CollectionFile)
	if !ok {
		return nil, false
	}
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		// JSON carries byte slices as base64 text
		data, err := base64.StdEncoding.DecodeString(b)
		if err != nil {
			m.logger.Warn("cached file is not a byte payload", map[string]interface{}{"id": id, "error": err})
			return nil, false
		}
		return data, true
	case nil:
		return nil, true
	default:
		return nil, false
	}
}

// CacheQuery persists a query result to the durable query collection without
// touching the memory tier. Without a durable tier the result is kept in memory
// under query:<hash> so the session behaves the same.
func (m *Manager) CacheQuery(ctx context.Context, hash string, result any, typ string) bool {
	opts := []Option{
		WithTTL(m.config.QueryTTL),
		WithTags(queryTag),
		inCollection(store.CollectionQuery),
		withType(typ),
	}
	key := queryKeyPrefix + hash
	if !m.durableReady() {
		return m.Set(ctx, key, result, opts...)
	}

	e := m.buildEntry(key, result, applyOptions(key, opts))
	rec := e.record()
	if rec == nil {
		return m.Set(ctx, key, result, opts...)
	}
	m.storePut(ctx, store.CollectionQuery, rec)
	return true
}

// GetCachedQuery returns a result stored by CacheQuery.
func (m *Manager) GetCachedQuery(ctx context.Context, hash string) (any, bool) {
	key := queryKeyPrefix + hash
	if !m.durableReady() {
		return m.get(ctx, key, store.CollectionQuery)
	}

	m.mu.Lock()
	_, inMemory := m.memory.get(key)
	m.mu.Unlock()
	if inMemory {
		return m.get(ctx, key, store.CollectionQuery)
	}

	now := m.now()
	rec, ok := m.storeGet(ctx, store.CollectionQuery, key)
	if !ok {
		m.recordMiss()
		return nil, false
	}
	if rec.Expired(now) {
		m.storeDelete(ctx, store.CollectionQuery, key)
		m.metrics.RecordExpiration(1)
		m.recordMiss()
		return nil, false
	}

	_, value, err := m.promote(key, store.CollectionQuery, rec, now)
	if err != nil {
		m.dropUnreadable(ctx, key, store.CollectionQuery, err)
		return nil, false
	}

	m.mu.Lock()
	m.stats.Hits++
	m.mu.Unlock()
	m.metrics.RecordRequest("hit", SourceDurable)
	m.storeTouch(ctx, store.CollectionQuery, key, now)
	return value, true
}

// QueryHash derives a stable query key from its parts.
func QueryHash(parts ...any) string {
	data, err := json.Marshal(parts)
	if err != nil {
		data = []byte(fmt.Sprint(parts...))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// checkMemoryPressure evicts one batch if the memory tier is over either bound.
func (m *Manager) checkMemoryPressure() int {
	m.mu.Lock()
	if !overBounds(m.memory.len(), m.memory.aggregateSize(), m.config.MaxMemoryItems, m.config.MaxMemorySize) {
		items, size := m.memory.len(), m.memory.aggregateSize()
		m.mu.Unlock()
		m.metrics.SetMemoryUsage(items, size)
		return 0
	}
	m.mu.Unlock()
	return m.evict(0)
}

// evict removes n entries in eviction order; n <= 0 selects the pressure batch size.
func (m *Manager) evict(n int) int {
	m.mu.Lock()
	if n <= 0 {
		n = evictionCount(m.memory.len())
	}
	victims := selectVictims(m.memory.entries(), n)
	for _, e := range victims {
		m.memory.delete(e.Key)
	}
	m.stats.Evictions += int64(len(victims))
	items, size := m.memory.len(), m.memory.aggregateSize()
	m.mu.Unlock()

	m.metrics.RecordEviction(len(victims))
	m.metrics.SetMemoryUsage(items, size)
	m.logger.Debug("evicted entries under memory pressure", map[string]interface{}{
		"evicted":   len(victims),
		"remaining": items,
		"bytes":     size,
	})
	return len(victims)
}

// sweepExpired removes expired memory entries from both tiers and compacts old
// durable records.
func (m *Manager) sweepExpired(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	expired := expiredEntries(m.memory.entries(), now)
	for _, e := range expired {
		m.memory.delete(e.Key)
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.storeDelete(ctx, e.collection, e.Key)
	}
	if len(expired) > 0 {
		m.metrics.RecordExpiration(len(expired))
		m.logger.Debug("swept expired entries", map[string]interface{}{"count": len(expired)})
	}

	m.compactDurable(ctx, now)
	return len(expired)
}

func (m *Manager) compactDurable(ctx context.Context, now time.Time) {
	if m.config.DurableMaxAge <= 0 || !m.durableReady() {
		return
	}
	cutoff := now.Add(-m.config.DurableMaxAge)
	for _, c := range []string{store.CollectionData, store.CollectionFile, store.CollectionQuery} {
		start := time.Now()
		keys, err := m.durable.Keys(ctx, c, store.Query{By: store.ByTimestamp, Before: cutoff})
		m.metrics.RecordStoreOperation("keys", c, time.Since(start), err)
		if err != nil {
			m.logger.Warn("durable compaction failed", map[string]interface{}{"collection": c, "error": err})
			continue
		}
		for _, key := range keys {
			m.storeDelete(ctx, c, key)
		}
	}
}

func (m *Manager) loop(interval time.Duration, fn func(context.Context)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			fn(m.bgCtx)
		}
	}
}

// Destroy stops the background loops, persists statistics and closes the durable
// store. It is safe to call more than once; only the first call does any work.
func (m *Manager) Destroy() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.stopCh)
		m.bgCancel()
		m.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), destroyTimeout)
		defer cancel()
		// Last chance to save the counters; retry transient write failures.
		flush := retry.New(retry.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			RetryableErrors: []cerrors.ErrorCode{
				cerrors.ErrCodeStoreTimeout,
				cerrors.ErrCodeStoreWrite,
			},
		})
		err = multierr.Append(err, flush.Do(ctx, m.persistStats))

		m.closed.Store(true)
		if m.durable != nil {
			err = multierr.Append(err, m.durable.Close())
		}
		m.codec.Close()
		m.logger.Debug("cache destroyed")
	})
	return err
}

func (m *Manager) durableReady() bool {
	return m.durable != nil && !m.closed.Load()
}

func (m *Manager) storeGet(ctx context.Context, collection, key string) (*store.Record, bool) {
	if !m.durableReady() {
		return nil, false
	}
	start := time.Now()
	rec, err := m.durable.Get(ctx, collection, key)
	m.metrics.RecordStoreOperation("get", collection, time.Since(start), err)
	if err != nil {
		m.logger.Warn("durable get failed", map[string]interface{}{
			"collection": collection,
			"key":        key,
			"error":      err,
		})
		return nil, false
	}
	return rec, rec != nil
}

func (m *Manager) storePut(ctx context.Context, collection string, rec *store.Record) {
	if !m.durableReady() {
		return
	}
	start := time.Now()
	err := m.durable.Put(ctx, collection, rec)
	m.metrics.RecordStoreOperation("put", collection, time.Since(start), err)
	if err != nil {
		m.logger.Warn("durable put failed", map[string]interface{}{
			"collection": collection,
			"key":        rec.Key,
			"error":      err,
		})
	}
}

func (m *Manager) storeDelete(ctx context.Context, collection, key string) {
	if !m.durableReady() {
		return
	}
	start := time.Now()
	err := m.durable.Delete(ctx, collection, key)
	m.metrics.RecordStoreOperation("delete", collection, time.Since(start), err)
	if err != nil {
		m.logger.Warn("durable delete failed", map[string]interface{}{
			"collection": collection,
			"key":        key,
			"error":      err,
		})
	}
}

func (m *Manager) storeTouch(ctx context.Context, collection, key string, at time.Time) {
	if !m.durableReady() {
		return
	}
	start := time.Now()
	err := m.durable.Touch(ctx, collection, key, at)
	m.metrics.RecordStoreOperation("touch", collection, time.Since(start), err)
	if err != nil {
		m.logger.Debug("durable touch failed", map[string]interface{}{"key": key, "error": err})
	}
}

func (m *Manager) storeClear(ctx context.Context, collection string) {
	if !m.durableReady() {
		return
	}
	start := time.Now()
	err := m.durable.Clear(ctx, collection)
	m.metrics.RecordStoreOperation("clear", collection, time.Since(start), err)
	if err != nil {
		m.logger.Warn("durable clear failed", map[string]interface{}{"collection": collection, "error": err})
	}
}
