package identity

import "sync"

// Map is a goroutine-safe hash map keyed by Key. Entries are bucketed by the
// map's own hasher and resolved with Key.Equal, so keys built with different
// strategies still meet when their members are equal.
type Map[V any] struct {
	mu      sync.RWMutex
	hasher  Hasher
	buckets map[uint64][]entry[V]
	size    int
}

type entry[V any] struct {
	key   Key
	value V
}

// NewMap returns an empty map bucketing with DefaultHasher.
func NewMap[V any]() *Map[V] {
	return NewMapWithHasher[V](nil)
}

// NewMapWithHasher returns an empty map bucketing with h. A nil h selects
// DefaultHasher.
func NewMapWithHasher[V any](h Hasher) *Map[V] {
	if h == nil {
		h = DefaultHasher
	}
	return &Map[V]{hasher: h, buckets: make(map[uint64][]entry[V])}
}

func (m *Map[V]) hash(k Key) uint64 { return m.hasher.Hash(k.members) }

// Load returns the value stored for k.
func (m *Map[V]) Load(k Key) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.buckets[m.hash(k)] {
		if e.key.Equal(k) {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Store sets the value for k, replacing any existing entry.
func (m *Map[V]) Store(k Key, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(k)
	bucket := m.buckets[h]
	for i := range bucket {
		if bucket[i].key.Equal(k) {
			bucket[i].value = v
			return
		}
	}
	m.buckets[h] = append(bucket, entry[V]{key: k, value: v})
	m.size++
}

// LoadOrStore returns the existing value for k when present. Otherwise it
// stores v and returns it. loaded reports whether the value was present.
func (m *Map[V]) LoadOrStore(k Key, v V) (actual V, loaded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(k)
	for _, e := range m.buckets[h] {
		if e.key.Equal(k) {
			return e.value, true
		}
	}
	m.buckets[h] = append(m.buckets[h], entry[V]{key: k, value: v})
	m.size++
	return v, false
}

// Delete removes k, reporting whether it was present.
func (m *Map[V]) Delete(k Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hash(k)
	bucket := m.buckets[h]
	for i := range bucket {
		if bucket[i].key.Equal(k) {
			bucket = append(bucket[:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(m.buckets, h)
			} else {
				m.buckets[h] = bucket
			}
			m.size--
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (m *Map[V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Range calls fn for each entry until fn returns false. fn must not mutate
// the map.
func (m *Map[V]) Range(fn func(Key, V) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, bucket := range m.buckets {
		for _, e := range bucket {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}
