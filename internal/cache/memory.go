package cache

import "container/list"

// memoryTier is an insertion-ordered map of entries. It is not safe for concurrent
// use; the Manager serializes access.
type memoryTier struct {
	items map[string]*list.Element
	order *list.List
	size  int64
}

func newMemoryTier() *memoryTier {
	return &memoryTier{
		items: make(map[string]*list.Element),
		order: list.New(),
	}
}

// put inserts or replaces an entry. A replaced key keeps its insertion position.
func (m *memoryTier) put(e *Entry) {
	if elem, ok := m.items[e.Key]; ok {
		old := elem.Value.(*Entry)
		m.size += e.Size - old.Size
		elem.Value = e
		return
	}
	m.items[e.Key] = m.order.PushBack(e)
	m.size += e.Size
}

func (m *memoryTier) get(key string) (*Entry, bool) {
	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*Entry), true
}

func (m *memoryTier) delete(key string) (*Entry, bool) {
	elem, ok := m.items[key]
	if !ok {
		return nil, false
	}
	e := m.order.Remove(elem).(*Entry)
	delete(m.items, key)
	m.size -= e.Size
	return e, true
}

func (m *memoryTier) clear() {
	m.items = make(map[string]*list.Element)
	m.order.Init()
	m.size = 0
}

func (m *memoryTier) len() int {
	return len(m.items)
}

// aggregateSize is the sum of entry sizes.
func (m *memoryTier) aggregateSize() int64 {
	return m.size
}

// entries returns the entries in insertion order.
func (m *memoryTier) entries() []*Entry {
	out := make([]*Entry, 0, len(m.items))
	for elem := m.order.Front(); elem != nil; elem = elem.Next() {
		out = append(out, elem.Value.(*Entry))
	}
	return out
}
