// Package abuse escalates enforcement against identities that keep asking
// off-topic questions.
//
// Each identity moves through Clean → Warned(n) → Penalized. Off-topic
// answers are recorded as strikes inside a fixed tracking window; the strike
// that reaches the limit arms the Gate and discards the window. Once the
// penalty runs out the identity is Clean again with no residual strikes, and a
// window that expires before reaching the limit restarts counting at one.
package abuse

import (
	"fmt"
	"time"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/shard"
)

// Reference defaults.
const (
	DefaultStrikeLimit  = 3
	DefaultStrikeWindow = 10 * time.Minute
)

// State is an identity's position in the escalation machine.
type State int

const (
	StateClean State = iota
	StateWarned
	StatePenalized
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateWarned:
		return "warned"
	case StatePenalized:
		return "penalized"
	default:
		return "unknown"
	}
}

// TrackerConfig configures strike tracking.
type TrackerConfig struct {
	// Limit is the strike count that triggers a penalty.
	Limit int
	// Window is how long a strike window stays open after its first strike.
	Window time.Duration
	// Shards is the number of lock shards; 0 uses shard.DefaultShards.
	Shards int
}

// Strike describes the effect of one off-topic classification.
type Strike struct {
	// Count is the strike count after this event. When Penalized is true it
	// equals Limit.
	Count int
	Limit int
	// Penalized is true when this event armed the penalty gate.
	Penalized       bool
	PenaltyDuration time.Duration
	// Absorbed is true when identity was already penalized. The strike is
	// not counted and no window is opened.
	Absorbed bool
	// Until is when the penalty lifts. Zero unless Penalized or Absorbed.
	Until time.Time
}

// Remaining returns how many more strikes are allowed before a penalty.
func (s Strike) Remaining() int {
	if s.Penalized || s.Absorbed || s.Count >= s.Limit {
		return 0
	}
	return s.Limit - s.Count
}

// Message renders the user-facing warning for this strike.
func (s Strike) Message() string {
	if s.Penalized || s.Absorbed {
		return fmt.Sprintf("Too many off-topic questions. Requests are paused for %s.", humanDuration(s.PenaltyDuration))
	}
	return fmt.Sprintf("Off-topic question %d of %d. %d more before a %s pause.",
		s.Count, s.Limit, s.Remaining(), humanDuration(s.PenaltyDuration))
}

type strikeWindow struct {
	count int
	end   time.Time
}

// Tracker counts off-topic strikes per identity and arms a Gate when an
// identity reaches the limit.
type Tracker struct {
	cfg     TrackerConfig
	windows *shard.Map[strikeWindow]
	gate    *Gate
	clock   clock.Clock
}

// NewTracker creates a Tracker that arms gate.
func NewTracker(cfg TrackerConfig, gate *Gate, clk clock.Clock) *Tracker {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultStrikeLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultStrikeWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if gate == nil {
		gate = NewGate(DefaultPenalty, cfg.Shards, clk)
	}
	return &Tracker{
		cfg:     cfg,
		windows: shard.New[strikeWindow](cfg.Shards),
		gate:    gate,
		clock:   clk,
	}
}

// Record registers an off-topic classification for identity. A request that
// passed the gate before a concurrent one armed the penalty is absorbed, so
// the identity leaves the penalty with no residual strikes.
func (t *Tracker) Record(identity string) Strike {
	now := t.clock.Now()
	res := Strike{Limit: t.cfg.Limit, PenaltyDuration: t.gate.Duration()}

	t.windows.Update(identity, func(w strikeWindow, ok bool) (strikeWindow, bool) {
		if until, penalized := t.gate.activeUntil(identity, now); penalized {
			res.Count = t.cfg.Limit
			res.Absorbed = true
			res.Until = until
			return w, false
		}
		if !ok || !now.Before(w.end) {
			w = strikeWindow{count: 0, end: now.Add(t.cfg.Window)}
		}
		w.count++
		res.Count = w.count

		if w.count >= t.cfg.Limit {
			res.Penalized = true
			res.Until = t.gate.arm(identity, now)
			return w, false
		}
		return w, true
	})
	return res
}

// Count returns identity's live strike count.
func (t *Tracker) Count(identity string) int {
	w, ok := t.windows.Load(identity)
	if !ok || !t.clock.Now().Before(w.end) {
		return 0
	}
	return w.count
}

// State reports where identity sits in the escalation machine without
// mutating anything.
func (t *Tracker) State(identity string) State {
	if t.gate.penalized(identity, t.clock.Now()) {
		return StatePenalized
	}
	if t.Count(identity) > 0 {
		return StateWarned
	}
	return StateClean
}

// Forgive discards identity's strike window.
func (t *Tracker) Forgive(identity string) {
	t.windows.Delete(identity)
}

// Sweep removes every strike window that has ended at now.
func (t *Tracker) Sweep(now time.Time) int {
	return t.windows.DeleteFunc(func(_ string, w strikeWindow) bool {
		return !now.Before(w.end)
	})
}

// Len returns the number of stored strike windows.
func (t *Tracker) Len() int { return t.windows.Len() }

// Gate returns the gate armed by this tracker.
func (t *Tracker) Gate() *Gate { return t.gate }

// Config returns the effective configuration.
func (t *Tracker) Config() TrackerConfig { return t.cfg }

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	case d >= time.Second && d%time.Second == 0:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	default:
		return d.String()
	}
}
