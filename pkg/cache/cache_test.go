package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/models"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, ttl time.Duration, capacity int) (*Store, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return New(ttl, capacity, clk), clk
}

func TestSetAndGet(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	c.Set("h1", "hello")
	got, ok := c.Get("h1")
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	_, ok = c.Get("h2")
	assert.False(t, ok)
}

func TestTTLBoundary(t *testing.T) {
	c, clk := newTestCache(t, 5*time.Minute, 10)
	c.Set("h", "answer")

	clk.Advance(5 * time.Minute)
	_, ok := c.Get("h")
	assert.True(t, ok, "entry exactly TTL old is still live")

	clk.Advance(time.Millisecond)
	_, ok = c.Get("h")
	assert.False(t, ok, "entry older than TTL is absent")
	assert.Equal(t, 0, c.Len(), "expired entry removed on read")
}

func TestExpiryIndependentOfSweep(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	c.Set("h", "answer")
	clk.Advance(2 * time.Minute)

	assert.Equal(t, 1, c.Len(), "still physically stored before sweep")
	_, ok := c.Get("h")
	assert.False(t, ok)
}

func TestCapacityEvictsOldestInserted(t *testing.T) {
	c, _ := newTestCache(t, 5*time.Minute, 2)

	c.Set("A", "a")
	c.Set("B", "b")
	// reading A must not protect it: eviction is by insertion order
	_, _ = c.Get("A")
	c.Set("C", "c")

	_, ok := c.Get("A")
	assert.False(t, ok)
	for _, k := range []string{"B", "C"} {
		_, ok := c.Get(k)
		assert.True(t, ok, "expected %s present", k)
	}
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestCapacityPlusOne(t *testing.T) {
	const capacity = 100
	c, _ := newTestCache(t, 5*time.Minute, capacity)

	for i := 0; i <= capacity; i++ {
		c.Set(fmt.Sprintf("fp-%d", i), "x")
	}

	_, ok := c.Get("fp-0")
	assert.False(t, ok)
	for i := 1; i <= capacity; i++ {
		_, ok := c.Get(fmt.Sprintf("fp-%d", i))
		assert.True(t, ok, "fp-%d should remain", i)
	}
	assert.Equal(t, capacity, c.Len())
}

func TestSetReplacesWithoutEviction(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 2)
	c.Set("A", "a1")
	c.Set("B", "b")
	clk.Advance(30 * time.Second)
	c.Set("A", "a2")

	got, ok := c.Get("A")
	require.True(t, ok)
	assert.Equal(t, "a2", got)
	assert.EqualValues(t, 0, c.Stats().Evictions)

	// A was re-inserted, so B is now the oldest.
	c.Set("C", "c")
	_, ok = c.Get("B")
	assert.False(t, ok)
	_, ok = c.Get("A")
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	c, clk := newTestCache(t, time.Minute, 10)
	c.Set("old1", "x")
	c.Set("old2", "x")
	clk.Advance(45 * time.Second)
	c.Set("fresh", "x")
	clk.Advance(30 * time.Second)

	removed := c.Sweep(clk.Now())
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestStatsAndClear(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 10)
	c.Set("h1", "data")
	c.Get("h1") // hit
	c.Get("h2") // miss

	stats := c.Stats()
	assert.Equal(t, models.CacheStats{Entries: 1, Capacity: 10, Hits: 1, Misses: 1}, stats)

	c.Clear()
	assert.EqualValues(t, 0, c.Stats().Entries)
}

func TestDefaults(t *testing.T) {
	c := New(0, 0, nil)
	assert.Equal(t, DefaultTTL, c.TTL())
	assert.EqualValues(t, DefaultCapacity, c.Stats().Capacity)
}

func TestConcurrentSetNeverExceedsCapacity(t *testing.T) {
	c, _ := newTestCache(t, time.Hour, 16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("%d-%d", g, i)
				c.Set(k, "v")
				c.Get(k)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}
