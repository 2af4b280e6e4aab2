package cmap

// Range iterates over all key-value pairs. fn returns false to stop.
// Locks are taken shard by shard, so the view is not a snapshot.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for i := range m.shards {
		if !m.RangeShard(i, fn) {
			return
		}
	}
}

// RangeShard iterates over one shard under its read lock. It returns false
// if fn stopped the iteration.
func (m *Map[V]) RangeShard(i int, fn func(key string, value V) bool) bool {
	s := m.shards[i]
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.items {
		if !fn(k, v) {
			return false
		}
	}
	return true
}

// View runs fn with the value for key under the shard's read lock. fn must
// not retain references that a concurrent Compute could mutate.
func (m *Map[V]) View(key string, fn func(value V, exists bool)) {
	s := m.getShard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	fn(v, ok)
}

// Keys returns all keys.
func (m *Map[V]) Keys() []string {
	keys := make([]string, 0, m.Count())
	m.Range(func(key string, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// GetOrSet returns the existing value for a key, or stores value if the
// key is absent. loaded reports whether the value already existed.
func (m *Map[V]) GetOrSet(key string, value V) (actual V, loaded bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[key]; ok {
		return existing, true
	}
	s.items[key] = value
	return value, false
}

// SetIfAbsent sets the value only if the key does not exist.
func (m *Map[V]) SetIfAbsent(key string, value V) bool {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = value
	return true
}

// Pop removes and returns the value for a key.
func (m *Map[V]) Pop(key string) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return val, ok
}

// Compute runs fn under the shard's write lock with the current value.
// fn returns the new value and whether to keep it; keep=false deletes the
// key. Compute returns the stored value and whether the key now exists.
func (m *Map[V]) Compute(key string, fn func(old V, exists bool) (V, bool)) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.items[key]
	val, keep := fn(old, exists)
	if !keep {
		delete(s.items, key)
		var zero V
		return zero, false
	}
	s.items[key] = val
	return val, true
}

// DeleteIf removes every entry for which fn returns true, one shard at a
// time, and returns how many were removed.
func (m *Map[V]) DeleteIf(fn func(key string, value V) bool) int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if fn(k, v) {
				delete(s.items, k)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n
}

// ShardStats describes the size of one shard.
type ShardStats struct {
	Index int
	Count int
}

// Stats returns the size of every shard.
func (m *Map[V]) Stats() []ShardStats {
	stats := make([]ShardStats, len(m.shards))
	for i, s := range m.shards {
		s.mu.RLock()
		stats[i] = ShardStats{Index: i, Count: len(s.items)}
		s.mu.RUnlock()
	}
	return stats
}
