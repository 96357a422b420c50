// Package shard provides a string-keyed map split across independently locked
// shards, so that operations on unrelated keys rarely contend.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when New is called with n <= 0.
const DefaultShards = 32

// Map is a sharded map safe for concurrent use.
type Map[V any] struct {
	shards []*bucket[V]
	mask   uint64
}

type bucket[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// New creates a Map with n shards, rounded up to a power of two.
func New[V any](n int) *Map[V] {
	if n <= 0 {
		n = DefaultShards
	}
	size := 1
	for size < n {
		size <<= 1
	}
	m := &Map[V]{
		shards: make([]*bucket[V], size),
		mask:   uint64(size - 1),
	}
	for i := range m.shards {
		m.shards[i] = &bucket[V]{items: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.shards[xxhash.Sum64String(key)&m.mask]
}

// Update runs fn under the lock of key's shard. fn receives the current value
// and whether it exists; it returns the value to store and whether to keep it.
// Returning keep=false deletes the key.
func (m *Map[V]) Update(key string, fn func(cur V, ok bool) (next V, keep bool)) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	cur, ok := b.items[key]
	next, keep := fn(cur, ok)
	if keep {
		b.items[key] = next
	} else if ok {
		delete(b.items, key)
	}
}

// Load returns the value stored for key.
func (m *Map[V]) Load(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[key]
	return v, ok
}

// Delete removes key. Idempotent.
func (m *Map[V]) Delete(key string) {
	b := m.bucketFor(key)
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
}

// DeleteFunc removes every entry for which fn returns true and reports how
// many were removed. Shards are locked one at a time.
func (m *Map[V]) DeleteFunc(fn func(key string, v V) bool) int {
	removed := 0
	for _, b := range m.shards {
		b.mu.Lock()
		for k, v := range b.items {
			if fn(k, v) {
				delete(b.items, k)
				removed++
			}
		}
		b.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries across all shards.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.shards {
		b.mu.Lock()
		n += len(b.items)
		b.mu.Unlock()
	}
	return n
}

// Clear removes every entry.
func (m *Map[V]) Clear() {
	for _, b := range m.shards {
		b.mu.Lock()
		clear(b.items)
		b.mu.Unlock()
	}
}
