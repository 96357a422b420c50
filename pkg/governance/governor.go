// Package governance decides what happens to each chat request: deny it,
// answer from cache, or forward it upstream and account for the result.
package governance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pario-ai/warden/pkg/abuse"
	"github.com/pario-ai/warden/pkg/cache"
	"github.com/pario-ai/warden/pkg/clock"
	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/metrics"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/ratelimit"
)

// Options carries the optional collaborators of a Governor.
type Options struct {
	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Audit   AuditSink
	// UpstreamTimeout bounds a shared upstream call once it is detached from
	// the caller that started it. Zero means no bound.
	UpstreamTimeout time.Duration
}

// Governor owns the governance stores for one process.
type Governor struct {
	cache    *cache.Store
	limiter  *ratelimit.Limiter
	tracker  *abuse.Tracker
	gate     *abuse.Gate
	answerer Answerer

	flight   singleflight.Group
	timeout  time.Duration
	clock    clock.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	audit    AuditSink
	auditing sync.WaitGroup
}

// New builds a Governor over existing stores. The penalty gate is the one
// tracker arms.
func New(store *cache.Store, limiter *ratelimit.Limiter, tracker *abuse.Tracker, answerer Answerer, opts Options) *Governor {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Governor{
		cache:    store,
		limiter:  limiter,
		tracker:  tracker,
		gate:     tracker.Gate(),
		answerer: answerer,
		timeout:  opts.UpstreamTimeout,
		clock:    opts.Clock,
		logger:   logging.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		audit:    opts.Audit,
	}
}

// NewFromConfig builds the store graph from cfg and returns a Governor over it.
func NewFromConfig(cfg config.GovernanceConfig, answerer Answerer, opts Options) *Governor {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
		opts.Clock = clk
	}
	store := cache.New(cfg.CacheTTL, cfg.CacheCapacity, clk)
	limiter := ratelimit.New(ratelimit.Config{
		Limit:  cfg.RateLimit,
		Window: cfg.RateWindow,
		Shards: cfg.Shards,
	}, clk)
	gate := abuse.NewGate(cfg.PenaltyDuration, cfg.Shards, clk)
	tracker := abuse.NewTracker(abuse.TrackerConfig{
		Limit:  cfg.StrikeLimit,
		Window: cfg.StrikeWindow,
		Shards: cfg.Shards,
	}, gate, clk)
	return New(store, limiter, tracker, answerer, opts)
}

// Evaluate runs one request through the governance pipeline:
// penalty gate, rate limiter, cache, then the upstream answerer.
//
// Denials are returned as decisions. The only errors are ErrInvalidInput,
// returned before any store is touched, and ErrUpstream.
func (g *Governor) Evaluate(ctx context.Context, identity string, history []models.ChatMessage) (Decision, error) {
	if strings.TrimSpace(identity) == "" {
		g.metrics.ObserveDecision("invalid")
		return Decision{}, fmt.Errorf("%w: empty identity", ErrInvalidInput)
	}
	question, ok := models.LastUserMessage(history)
	if !ok {
		g.metrics.ObserveDecision("invalid")
		return Decision{}, fmt.Errorf("%w: no user message", ErrInvalidInput)
	}
	fp, _ := cache.Fingerprint(history)
	start := g.clock.Now()
	ev := event{requestID: RequestID(ctx), identity: identity, fingerprint: fp, question: question.Content}

	if res := g.gate.Check(identity); res.Denied {
		d := Decision{Kind: KindDenied, Reason: ReasonPenalized, RetryAfter: res.RetryAfter, Fingerprint: fp}
		g.logger.Info("request denied",
			zap.String("identity", identity),
			zap.String("reason", d.Reason.String()),
			zap.Int("retry_after", d.RetryAfter))
		g.finish(ev, d, models.EventPenalized, start)
		return d, nil
	}

	if res := g.limiter.Check(identity); !res.Allowed {
		d := Decision{Kind: KindDenied, Reason: ReasonRateLimited, RetryAfter: res.RetryAfter, Fingerprint: fp}
		g.logger.Info("request denied",
			zap.String("identity", identity),
			zap.String("reason", d.Reason.String()),
			zap.Int("retry_after", d.RetryAfter))
		g.finish(ev, d, models.EventRateLimited, start)
		return d, nil
	}

	if text, ok := g.cache.Get(fp); ok {
		d := Decision{Kind: KindCacheHit, Text: text, Fingerprint: fp}
		g.logger.Debug("cache hit", zap.String("identity", identity), zap.String("fingerprint", fp))
		g.finish(ev, d, models.EventCacheHit, start)
		return d, nil
	}

	ans, err := g.answer(ctx, fp, history)
	if err != nil {
		g.logger.Warn("upstream failure",
			zap.String("identity", identity),
			zap.String("fingerprint", fp),
			zap.Error(err))
		ev.detail = err.Error()
		g.metrics.ObserveDecision("upstream_error")
		g.record(ev, models.EventUpstreamErr, 0, 0, start)
		return Decision{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	d := Decision{Kind: KindFresh, Text: ans.Text, Fingerprint: fp}
	if ans.Verdict == OffTopic {
		strike := g.tracker.Record(identity)
		d.Warning = &strike
		g.metrics.ObserveStrike(strike.Penalized)
		g.logger.Info("off-topic strike",
			zap.String("identity", identity),
			zap.Int("strike", strike.Count),
			zap.Bool("penalized", strike.Penalized))
		kind := models.EventStrike
		if strike.Penalized {
			kind = models.EventPenaltySet
		}
		g.metrics.ObserveDecision(d.outcome())
		g.record(ev, kind, strike.Count, 0, start)
		return d, nil
	}

	g.cache.Set(fp, ans.Text)
	g.finish(ev, d, models.EventAnswered, start)
	return d, nil
}

// answer calls the answerer, sharing one call among concurrent misses for the
// same fingerprint. The shared call outlives any single caller; each caller
// stops waiting when its own ctx is done.
func (g *Governor) answer(ctx context.Context, fp string, history []models.ChatMessage) (Answer, error) {
	ch := g.flight.DoChan(fp, func() (any, error) {
		callCtx := context.WithoutCancel(ctx)
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, g.timeout)
			defer cancel()
		}
		start := time.Now()
		ans, err := g.answerer.Answer(callCtx, history)
		if err == nil {
			err = validate(ans)
		}
		g.metrics.ObserveUpstream(time.Since(start), err)
		return ans, err
	})

	select {
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Answer{}, res.Err
		}
		return res.Val.(Answer), nil
	}
}

func validate(ans Answer) error {
	if ans.Verdict != OnTopic && ans.Verdict != OffTopic {
		return fmt.Errorf("unknown verdict %d", int(ans.Verdict))
	}
	if strings.TrimSpace(ans.Text) == "" {
		return errors.New("empty answer")
	}
	return nil
}

// Snapshot is a point-in-time view of the stores.
type Snapshot struct {
	Cache         models.CacheStats `json:"cache"`
	RateWindows   int               `json:"rate_windows"`
	StrikeWindows int               `json:"strike_windows"`
	Penalties     int               `json:"penalties"`
}

// Snapshot reports store sizes, including records that have expired but
// not yet been swept.
func (g *Governor) Snapshot() Snapshot {
	return Snapshot{
		Cache:         g.cache.Stats(),
		RateWindows:   g.limiter.Len(),
		StrikeWindows: g.tracker.Len(),
		Penalties:     g.gate.Len(),
	}
}

// IdentityStatus describes where one identity stands.
type IdentityStatus struct {
	Identity string `json:"identity"`
	State    string `json:"state"`
	Strikes  int    `json:"strikes"`
}

// Status reports identity's escalation state without mutating anything.
func (g *Governor) Status(identity string) IdentityStatus {
	return IdentityStatus{
		Identity: identity,
		State:    g.tracker.State(identity).String(),
		Strikes:  g.tracker.Count(identity),
	}
}

// Pardon clears identity's strikes, penalty and rate window.
func (g *Governor) Pardon(identity string) {
	g.tracker.Forgive(identity)
	g.gate.Lift(identity)
	g.limiter.Reset(identity)
}

// Drain blocks until every pending audit write has finished or ctx is done.
func (g *Governor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.auditing.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cache returns the response cache.
func (g *Governor) Cache() *cache.Store { return g.cache }

// Limiter returns the rate limiter.
func (g *Governor) Limiter() *ratelimit.Limiter { return g.limiter }

// Tracker returns the strike tracker.
func (g *Governor) Tracker() *abuse.Tracker { return g.tracker }

// Gate returns the penalty gate.
func (g *Governor) Gate() *abuse.Gate { return g.gate }

type requestIDKey struct{}

// WithRequestID attaches a request ID used to correlate audit events.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID in ctx, or a new one.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}
