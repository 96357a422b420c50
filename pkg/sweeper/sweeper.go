// Package sweeper periodically removes expired governance records.
//
// Expiry is always decided on access, so sweeping only bounds memory and
// never changes an observable decision.
package sweeper

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/metrics"
)

// DefaultInterval is how often Run sweeps when no interval is given.
const DefaultInterval = 5 * time.Minute

// Target is a store that can drop the records that have expired at now.
type Target interface {
	Sweep(now time.Time) int
}

// TargetFunc adapts a function to Target.
type TargetFunc func(now time.Time) int

// Sweep calls f(now).
func (f TargetFunc) Sweep(now time.Time) int { return f(now) }

// Report summarizes one sweep pass.
type Report struct {
	At      time.Time      `json:"at"`
	Removed map[string]int `json:"removed"`
	Total   int            `json:"total"`
}

type namedTarget struct {
	name   string
	target Target
}

// Sweeper runs registered targets on a fixed interval.
type Sweeper struct {
	interval time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	targets []namedTarget
	last    Report
}

// New creates a Sweeper. A nil logger discards output and a nil metrics
// records nothing.
func New(interval time.Duration, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logging.OrNop(logger)
	return &Sweeper{
		interval: interval,
		clock:    clk,
		logger:   logger,
		metrics:  m,
	}
}

// Add registers a target under name. Names label the per-target counts.
func (s *Sweeper) Add(name string, t Target) {
	s.mu.Lock()
	s.targets = append(s.targets, namedTarget{name: name, target: t})
	s.mu.Unlock()
}

// Interval returns the configured sweep interval.
func (s *Sweeper) Interval() time.Duration { return s.interval }

// SweepOnce runs every target once and returns what was removed.
func (s *Sweeper) SweepOnce() Report {
	s.mu.Lock()
	targets := make([]namedTarget, len(s.targets))
	copy(targets, s.targets)
	s.mu.Unlock()

	now := s.clock.Now()
	rep := Report{At: now, Removed: make(map[string]int, len(targets))}
	for _, nt := range targets {
		n := nt.target.Sweep(now)
		rep.Removed[nt.name] += n
		rep.Total += n
		s.metrics.ObserveSweep(nt.name, n)
	}

	s.mu.Lock()
	s.last = rep
	s.mu.Unlock()

	if rep.Total > 0 {
		s.logger.Debug("sweep complete", zap.Int("removed", rep.Total), zap.Any("by_store", rep.Removed))
	}
	return rep
}

// Last returns the most recent report, or the zero Report before any sweep.
func (s *Sweeper) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run sweeps every interval until ctx is done. It returns nil on
// cancellation so it can share an errgroup with the server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}
