/*
Package cache provides the two-tier value cache used by the spreadsheet workers.

Parsed sheets, filter and sort results, uploaded file blobs and query results are
cached in a bounded in-memory tier in front of an optional durable store, so repeated
work is skipped within a session and survives restarts.

# Architecture

	┌─────────────────────────────────────────────┐
	│        Producers (parse, filter, sort)      │
	│      Namespace views over one Manager       │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│                  Manager                    │  ← This Package
	│   Get / Set / GetOrCompute / batches        │
	│   tag invalidation, file & query helpers    │
	└─────────────────────────────────────────────┘
	          │                         │
	┌───────────────────┐     ┌───────────────────┐
	│   Memory tier     │     │      Codec        │
	│ insertion-ordered │     │ gzip/zstd/brotli  │
	│ 100 items, 50MiB  │     │ or RLE fallback   │
	└───────────────────┘     └───────────────────┘
	          │
	┌─────────────────────────────────────────────┐
	│           internal/store.Store              │
	│  dataCache · fileCache · queryCache ·       │
	│  cacheStats (file, S3 or Postgres)          │
	└─────────────────────────────────────────────┘

# Reads and writes

Get checks memory first, then the durable collection, promoting durable hits back
into memory. Set writes memory, then the durable tier, then runs the eviction
check. Values are serialized to JSON and compressed unless disabled per entry with
WithCompression(false); values read back from compressed or durable entries are
JSON-generic (map[string]any, []any, float64, string, bool, nil). Use GetAs to
convert them into a concrete type.

Get returns an explicit found flag, so a cached nil is distinguishable from a miss.

# Eviction and expiry

An entry expires when its TTL is positive and has elapsed since it was written.
Expired entries are removed lazily on Get and by a sweep every ExpiryInterval.

When the memory tier holds more than MaxMemoryItems entries or more than
MaxMemorySize bytes, a quarter of the entries (at least one) are evicted from memory,
ordered by priority and then by last access (or write time if never read). Evicted
entries stay in the durable tier.

# Failure handling

The durable tier is best-effort. If it cannot be opened the Manager runs
memory-only for its lifetime; per-call failures are logged and treated as misses or
skipped writes. Codec failures fall back to storing the raw value. Only
GetOrCompute returns an error, and only the one returned by the caller's producer.

# Usage

	mgr := cache.Open(ctx, cache.DefaultConfig(), storeCfg, cache.WithLogger(logger))
	defer mgr.Destroy()

	sheets := mgr.Namespace("parse")
	v, err := sheets.GetOrCompute(ctx, fileID, func(ctx context.Context) (any, error) {
		return parseWorkbook(ctx, fileID)
	}, cache.WithTTL(time.Hour))
*/
package cache
