package cache

import (
	"math"
	"sort"
	"time"
)

// evictionFraction of the in-memory entries is removed by each pressure eviction.
const evictionFraction = 0.25

// overBounds reports whether the memory tier exceeds either configured bound.
func overBounds(items int, size int64, maxItems int, maxSize int64) bool {
	return (maxItems > 0 && items > maxItems) || (maxSize > 0 && size > maxSize)
}

// evictionCount is ceil(0.25*n), at least 1.
func evictionCount(n int) int {
	c := int(math.Ceil(evictionFraction * float64(n)))
	if c < 1 {
		c = 1
	}
	return c
}

// evictionOrder sorts entries for eviction: priority ascending, then last use
// ascending. Entries are given in insertion order, which the stable sort keeps as
// the final tiebreak.
func evictionOrder(entries []*Entry) []*Entry {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.lastUse().Before(b.lastUse())
	})
	return sorted
}

// selectVictims returns the first n entries in eviction order.
func selectVictims(entries []*Entry, n int) []*Entry {
	if n > len(entries) {
		n = len(entries)
	}
	return evictionOrder(entries)[:n]
}

// expiredEntries returns the entries whose TTL has elapsed at now.
func expiredEntries(entries []*Entry, now time.Time) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.Expired(now) {
			out = append(out, e)
		}
	}
	return out
}
