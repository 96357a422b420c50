package models

import "time"

// CacheEntry stores a cached answer keyed by its request fingerprint.
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Response    string    `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries   int64 `json:"entries"`
	Capacity  int64 `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}
