/*
Package metrics exports cache and durable store metrics to Prometheus.

Collector implements cache.MetricsRecorder and keeps its series in a private
registry, served by Handler:

	┌─────────────┐      RecordRequest / RecordEviction / ...
	│ cache.Manager│ ───────────────────────────────┐
	└─────────────┘                                 │
	                                        ┌───────▼───────┐
	                                        │   Collector   │
	                                        │  (registry)   │
	                                        └───────┬───────┘
	                                                │ Handler()
	                                           GET /metrics

# Series

All names are prefixed with the configured namespace (default "sheetcache").

	cache_requests_total{type,source}         hits and misses by tier
	cache_evictions_total                     memory-tier evictions
	cache_expirations_total                   TTL removals
	codec_failures_total{operation}           encode/decode failures
	memory_items, memory_bytes                memory tier usage
	compression_ratio                         running average bytes saved
	store_operations_total{operation,collection,status}
	store_operation_duration_seconds{operation}
	store_errors_total{operation,type}

Operations returns per-operation call counts and average durations for the admin
API. A disabled collector accepts every call and records nothing.
*/
package metrics
