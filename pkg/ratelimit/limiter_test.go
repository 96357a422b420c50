package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/clock"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	return New(Config{Limit: limit, Window: window}, clk), clk
}

func TestLimitWithinWindow(t *testing.T) {
	l, _ := newTestLimiter(t, 10, 2*time.Minute)

	for i := 1; i <= 10; i++ {
		res := l.Check("x")
		require.True(t, res.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, res.Count)
	}

	res := l.Check("x")
	assert.False(t, res.Allowed)
	assert.Equal(t, 120, res.RetryAfter)
}

func TestRetryAfterDecreases(t *testing.T) {
	l, clk := newTestLimiter(t, 10, 2*time.Minute)
	for i := 0; i < 10; i++ {
		l.Check("x")
	}

	clk.Advance(30 * time.Second)
	res := l.Check("x")
	require.False(t, res.Allowed)
	assert.Equal(t, 90, res.RetryAfter)

	clk.Advance(89*time.Second + 500*time.Millisecond)
	res = l.Check("x")
	require.False(t, res.Allowed)
	assert.Equal(t, 1, res.RetryAfter, "partial seconds round up")
}

func TestWindowResets(t *testing.T) {
	l, clk := newTestLimiter(t, 3, time.Minute)
	for i := 0; i < 4; i++ {
		l.Check("x")
	}

	clk.Advance(time.Minute)
	res := l.Check("x")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Count, "new window starts at one")
}

func TestBoundaryBurstAllowed(t *testing.T) {
	l, clk := newTestLimiter(t, 5, time.Minute)

	l.Check("x") // opens window at t0
	clk.Advance(59 * time.Second)
	for i := 0; i < 4; i++ {
		require.True(t, l.Check("x").Allowed)
	}
	clk.Advance(time.Second)
	allowed := 0
	for i := 0; i < 5; i++ {
		if l.Check("x").Allowed {
			allowed++
		}
	}
	assert.Equal(t, 5, allowed, "fixed windows permit a burst across the boundary")
}

func TestIdentitiesIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	assert.True(t, l.Check("a").Allowed)
	assert.False(t, l.Check("a").Allowed)
	assert.True(t, l.Check("b").Allowed)
}

func TestSweepRemovesEndedWindows(t *testing.T) {
	l, clk := newTestLimiter(t, 10, time.Minute)
	l.Check("a")
	clk.Advance(30 * time.Second)
	l.Check("b")
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep(clk.Now()))
	assert.Equal(t, 1, l.Len())
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(t, 1, time.Minute)
	l.Check("a")
	l.Reset("a")
	assert.True(t, l.Check("a").Allowed)
}

func TestDefaults(t *testing.T) {
	l := New(Config{}, nil)
	assert.Equal(t, DefaultLimit, l.Config().Limit)
	assert.Equal(t, DefaultWindow, l.Config().Window)
}

func TestConcurrentChecksRespectLimit(t *testing.T) {
	l, _ := newTestLimiter(t, 10, time.Minute)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("same").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 10, allowed.Load())
}
