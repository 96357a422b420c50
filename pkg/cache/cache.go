// Package cache holds answers to previously asked questions, keyed by the
// fingerprint of the asking message.
//
// The store is FIFO, not LRU: once full, the entry inserted first is evicted
// regardless of how recently it was read. Entries older than the TTL are
// treated as absent by Get even if the sweeper has not removed them yet.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/models"
)

// Reference defaults.
const (
	DefaultTTL      = 5 * time.Minute
	DefaultCapacity = 100
)

// Store is an in-memory, size-bounded answer cache with TTL expiry.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List // front is the oldest insertion
	ttl      time.Duration
	capacity int
	clock    clock.Clock

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Store. Non-positive ttl or capacity fall back to the defaults.
func New(ttl time.Duration, capacity int, clk clock.Clock) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		ttl:      ttl,
		capacity: capacity,
		clock:    clk,
	}
}

// Get returns the cached answer for fingerprint. Expired entries are removed
// and reported as a miss.
func (s *Store) Get(fingerprint string) (string, bool) {
	now := s.clock.Now()

	s.mu.Lock()
	el, ok := s.entries[fingerprint]
	if !ok {
		s.mu.Unlock()
		s.misses.Add(1)
		return "", false
	}
	e := el.Value.(*models.CacheEntry)
	if s.expired(e, now) {
		s.removeLocked(el)
		s.mu.Unlock()
		s.misses.Add(1)
		return "", false
	}
	resp := e.Response
	s.mu.Unlock()

	s.hits.Add(1)
	return resp, true
}

// Set stores response under fingerprint. When the store is full the oldest
// inserted entry is evicted first. Replacing an existing fingerprint refreshes
// its age and insertion position.
func (s *Store) Set(fingerprint, response string) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[fingerprint]; ok {
		s.removeLocked(el)
	}
	for len(s.entries) >= s.capacity {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		s.removeLocked(oldest)
		s.evictions.Add(1)
	}

	el := s.order.PushBack(&models.CacheEntry{
		Fingerprint: fingerprint,
		Response:    response,
		CreatedAt:   now,
	})
	s.entries[fingerprint] = el
}

// Sweep removes every entry whose age exceeds the TTL at now and returns the
// number removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		if s.expired(el.Value.(*models.CacheEntry), now) {
			s.removeLocked(el)
			removed++
		}
		el = next
	}
	return removed
}

// Len returns the number of physically stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stats returns cache performance metrics.
func (s *Store) Stats() models.CacheStats {
	return models.CacheStats{
		Entries:   int64(s.Len()),
		Capacity:  int64(s.capacity),
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Evictions: s.evictions.Load(),
	}
}

// Clear removes every entry. Counters are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*list.Element)
	s.order.Init()
	s.mu.Unlock()
}

// TTL returns the configured time-to-live.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) expired(e *models.CacheEntry, now time.Time) bool {
	return now.Sub(e.CreatedAt) > s.ttl
}

func (s *Store) removeLocked(el *list.Element) {
	e := s.order.Remove(el).(*models.CacheEntry)
	delete(s.entries, e.Fingerprint)
}
