// Package ratelimit caps request volume per client identity with fixed
// windows.
//
// A window opens on the first request from an identity and lasts Config.Window.
// Requests are counted until Config.Limit is reached; further requests are
// denied until the window ends, at which point the next request opens a fresh
// window with a count of one. Because windows are fixed rather than sliding, a
// client can make up to 2×Limit requests across a window boundary.
package ratelimit

import (
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/shard"
)

// Reference defaults.
const (
	DefaultLimit  = 10
	DefaultWindow = 2 * time.Minute
)

// Config configures the limiter.
type Config struct {
	// Limit is the number of requests allowed per window.
	Limit int
	// Window is the fixed window length.
	Window time.Duration
	// Shards is the number of lock shards; 0 uses shard.DefaultShards.
	Shards int
}

// Result is the outcome of a Check.
type Result struct {
	Allowed bool
	// Count is the number of requests recorded in the current window.
	Count int
	// RetryAfter is the number of whole seconds until the window ends.
	// Only set when Allowed is false.
	RetryAfter int
}

// window is one identity's RateWindow.
type window struct {
	count int
	end   time.Time
}

// Limiter is a fixed-window per-identity rate limiter, safe for concurrent use.
type Limiter struct {
	cfg     Config
	windows *shard.Map[window]
	clock   clock.Clock
}

// New creates a Limiter, applying defaults for zero-valued fields.
func New(cfg Config, clk clock.Clock) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{
		cfg:     cfg,
		windows: shard.New[window](cfg.Shards),
		clock:   clk,
	}
}

// Check records a request from identity and reports whether it is allowed.
// The check and the increment happen atomically per identity.
func (l *Limiter) Check(identity string) Result {
	now := l.clock.Now()
	var res Result

	l.windows.Update(identity, func(w window, ok bool) (window, bool) {
		if !ok || !now.Before(w.end) {
			w = window{count: 1, end: now.Add(l.cfg.Window)}
			res = Result{Allowed: true, Count: 1}
			return w, true
		}
		if w.count < l.cfg.Limit {
			w.count++
			res = Result{Allowed: true, Count: w.count}
			return w, true
		}
		res = Result{
			Allowed:    false,
			Count:      w.count,
			RetryAfter: clock.CeilSeconds(w.end.Sub(now)),
		}
		return w, true
	})
	return res
}

// Sweep removes every window that has ended at now.
func (l *Limiter) Sweep(now time.Time) int {
	return l.windows.DeleteFunc(func(_ string, w window) bool {
		return !now.Before(w.end)
	})
}

// Reset forgets identity's window.
func (l *Limiter) Reset(identity string) {
	l.windows.Delete(identity)
}

// Len returns the number of identities with a stored window.
func (l *Limiter) Len() int {
	return l.windows.Len()
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}
