package abuse

import (
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/shard"
)

// DefaultPenalty is how long an identity stays denied after reaching the
// strike limit.
const DefaultPenalty = 5 * time.Minute

// GateResult is the outcome of a penalty check.
type GateResult struct {
	Denied bool
	// RetryAfter is the number of whole seconds until the penalty lifts.
	RetryAfter int
}

// Gate holds identities in a temporarily denied state.
type Gate struct {
	until    *shard.Map[time.Time]
	duration time.Duration
	clock    clock.Clock
}

// NewGate creates a Gate that denies penalized identities for duration.
func NewGate(duration time.Duration, shards int, clk clock.Clock) *Gate {
	if duration <= 0 {
		duration = DefaultPenalty
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gate{
		until:    shard.New[time.Time](shards),
		duration: duration,
		clock:    clk,
	}
}

// Check reports whether identity is currently penalized. A penalty that has
// run out is discarded here, returning the identity to a clean state.
func (g *Gate) Check(identity string) GateResult {
	now := g.clock.Now()
	var res GateResult

	g.until.Update(identity, func(until time.Time, ok bool) (time.Time, bool) {
		if !ok || !now.Before(until) {
			return until, false
		}
		res = GateResult{Denied: true, RetryAfter: clock.CeilSeconds(until.Sub(now))}
		return until, true
	})
	return res
}

// arm penalizes identity from now. Callers may hold a strike shard lock; the
// gate never takes one, so the lock order stays strike → penalty.
func (g *Gate) arm(identity string, now time.Time) time.Time {
	until := now.Add(g.duration)
	g.until.Update(identity, func(time.Time, bool) (time.Time, bool) {
		return until, true
	})
	return until
}

// Lift removes any penalty on identity.
func (g *Gate) Lift(identity string) {
	g.until.Delete(identity)
}

// penalized reports whether identity is penalized at now without mutating state.
func (g *Gate) penalized(identity string, now time.Time) bool {
	_, ok := g.activeUntil(identity, now)
	return ok
}

// activeUntil returns when identity's live penalty lifts.
func (g *Gate) activeUntil(identity string, now time.Time) (time.Time, bool) {
	until, ok := g.until.Load(identity)
	if !ok || !now.Before(until) {
		return time.Time{}, false
	}
	return until, true
}

// Sweep removes every penalty that has ended at now.
func (g *Gate) Sweep(now time.Time) int {
	return g.until.DeleteFunc(func(_ string, until time.Time) bool {
		return !now.Before(until)
	})
}

// Len returns the number of stored penalty records.
func (g *Gate) Len() int { return g.until.Len() }

// Duration returns the penalty length.
func (g *Gate) Duration() time.Duration { return g.duration }
