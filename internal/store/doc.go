/*
Package store implements the durable tier of the cache.

A Store persists Records in named collections. The cache uses four of them:
dataCache for general entries, fileCache for uploaded file blobs, queryCache for
query results and cacheStats for the persisted counters.

# Backends

	file      one directory per collection, a JSON index and one file per record
	s3        one object per record under <prefix>/<collection>/
	postgres  a single table keyed by (collection, key)
	none      disables the durable tier

Open builds the configured backend, checks it with Ping and wraps it in a Guard
that bounds every call with a timeout and trips a circuit breaker after repeated
failures. The ping is retried with exponential backoff per Config.Retry. If every
attempt fails Open returns an error matching ErrUnavailable and the caller is
expected to run without a durable tier.

# Indexes

Keys lists a collection ordered by write time or by last access, optionally only
the keys older than a cutoff. The cache uses it to compact old records.
*/
package store
