package governance

import (
	"context"
	"errors"

	"github.com/pario-ai/warden/pkg/abuse"
	"github.com/pario-ai/warden/pkg/models"
)

var (
	// ErrInvalidInput is returned for requests rejected before any state
	// is touched: an empty identity or a history with no user message.
	ErrInvalidInput = errors.New("governance: invalid input")
	// ErrUpstream wraps failures of the generation call, including
	// malformed answers. Such requests are never cached or counted.
	ErrUpstream = errors.New("governance: upstream failure")
)

// Verdict tags an answer as on or off topic.
type Verdict int

const (
	OnTopic Verdict = iota
	OffTopic
)

func (v Verdict) String() string {
	switch v {
	case OnTopic:
		return "on_topic"
	case OffTopic:
		return "off_topic"
	default:
		return "unknown"
	}
}

// Answer is a classified generation result. Text never carries a marker.
type Answer struct {
	Verdict Verdict
	Text    string
}

// Answerer produces a classified answer for a conversation. It is called
// with no governance lock held and may be slow or fail.
type Answerer interface {
	Answer(ctx context.Context, history []models.ChatMessage) (Answer, error)
}

// AnswererFunc adapts a function to Answerer.
type AnswererFunc func(ctx context.Context, history []models.ChatMessage) (Answer, error)

// Answer calls f.
func (f AnswererFunc) Answer(ctx context.Context, history []models.ChatMessage) (Answer, error) {
	return f(ctx, history)
}

// Kind is the shape of a Decision.
type Kind int

const (
	KindDenied Kind = iota + 1
	KindCacheHit
	KindFresh
)

func (k Kind) String() string {
	switch k {
	case KindDenied:
		return "denied"
	case KindCacheHit:
		return "cache_hit"
	case KindFresh:
		return "fresh"
	default:
		return "unknown"
	}
}

// Reason explains a denial.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonRateLimited
	ReasonPenalized
)

func (r Reason) String() string {
	switch r {
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonPenalized:
		return "penalized"
	default:
		return "none"
	}
}

// Decision is the outcome of Evaluate.
//
// Denied decisions carry Reason and RetryAfter (whole seconds). CacheHit and
// Fresh decisions carry Text. A Fresh decision for an off-topic answer also
// carries the Warning produced by the strike it recorded.
type Decision struct {
	Kind        Kind
	Reason      Reason
	RetryAfter  int
	Text        string
	Warning     *abuse.Strike
	Fingerprint string
}

// Denied reports whether the request was refused.
func (d Decision) Denied() bool { return d.Kind == KindDenied }

// outcome is the metrics label for d.
func (d Decision) outcome() string {
	if d.Kind == KindDenied {
		return d.Reason.String()
	}
	if d.Kind == KindFresh && d.Warning != nil {
		return "off_topic"
	}
	return d.Kind.String()
}

// AuditSink receives governance events. audit.Logger satisfies it.
type AuditSink interface {
	Log(ctx context.Context, entry models.AuditEntry) error
}
