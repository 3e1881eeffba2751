package cache

import (
	"time"

	"github.com/tommygoverstreet/smart-spreadsheet2025/internal/store"
)

// Entry is a cached value and its bookkeeping.
//
// Value holds the caller's value when the entry is stored raw. When Compressed is
// set, Data holds the encoded payload and Value is nil.
type Entry struct {
	Key          string
	Value        any
	Data         []byte
	Compressed   bool
	Encoding     string
	Timestamp    time.Time
	TTL          time.Duration
	Priority     int
	Tags         []string
	Size         int64
	AccessCount  int64
	LastAccessed time.Time

	// collection is the durable collection the entry is written to.
	collection string
	typ        string
	// raw is the JSON form of an uncompressed value; nil means it cannot be persisted.
	raw []byte
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.Timestamp) > e.TTL
}

// HasTag reports whether the entry carries tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// lastUse is the recency key for eviction: lastAccessed, or timestamp if never read.
func (e *Entry) lastUse() time.Time {
	if e.LastAccessed.IsZero() {
		return e.Timestamp
	}
	return e.LastAccessed
}

// record converts the entry to its persisted form. It returns nil for raw values
// that could not be serialized.
func (e *Entry) record() *store.Record {
	value := e.Data
	if !e.Compressed {
		if e.raw == nil {
			return nil
		}
		value = e.raw
	}
	return &store.Record{
		Key:          e.Key,
		Value:        value,
		Compressed:   e.Compressed,
		Encoding:     e.Encoding,
		Timestamp:    e.Timestamp,
		TTL:          e.TTL,
		Priority:     e.Priority,
		Tags:         e.Tags,
		Size:         e.Size,
		AccessCount:  e.AccessCount,
		LastAccessed: e.LastAccessed,
		Type:         e.typ,
	}
}

// Option configures a Set call.
type Option func(*setOptions)

type setOptions struct {
	ttl        time.Duration
	priority   int
	tags       []string
	compress   *bool
	collection string
	typ        string
}

// WithTTL sets the entry's time to live; 0 never expires.
func WithTTL(ttl time.Duration) Option {
	return func(o *setOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithPriority sets the eviction priority. Lower values are evicted first.
func WithPriority(priority int) Option {
	return func(o *setOptions) { o.priority = priority }
}

// WithTags attaches tags used by InvalidateByTag.
func WithTags(tags ...string) Option {
	return func(o *setOptions) { o.tags = append(o.tags, tags...) }
}

// WithCompression overrides the configured compression default for one entry.
func WithCompression(enabled bool) Option {
	return func(o *setOptions) { o.compress = &enabled }
}

func inCollection(collection string) Option {
	return func(o *setOptions) { o.collection = collection }
}

func withType(typ string) Option {
	return func(o *setOptions) { o.typ = typ }
}

// applyOptions resolves opts for key; the collection defaults to the one key routes to.
func applyOptions(key string, opts []Option) setOptions {
	o := setOptions{priority: 1, collection: collectionFor(key)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// BatchItem is one element of SetBatch.
type BatchItem struct {
	Key     string
	Value   any
	Options []Option
}

// Lookup is one result of GetBatch.
type Lookup struct {
	Key   string
	Value any
	Found bool
}
