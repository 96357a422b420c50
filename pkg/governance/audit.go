package governance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/warden/pkg/models"
)

type event struct {
	requestID   string
	identity    string
	fingerprint string
	question    string
	detail      string
}

func (g *Governor) finish(ev event, d Decision, kind models.EventKind, start time.Time) {
	g.metrics.ObserveDecision(d.outcome())
	g.record(ev, kind, 0, d.RetryAfter, start)
}

// record writes an audit entry in the background. Redaction and filtering
// are the sink's job.
func (g *Governor) record(ev event, kind models.EventKind, strikes, retryAfter int, start time.Time) {
	if g.audit == nil {
		return
	}
	now := g.clock.Now()
	entry := models.AuditEntry{
		RequestID:     ev.requestID,
		Identity:      ev.identity,
		Kind:          kind,
		Fingerprint:   ev.fingerprint,
		StrikeCount:   strikes,
		RetryAfterSec: retryAfter,
		Question:      ev.question,
		Detail:        ev.detail,
		LatencyMs:     now.Sub(start).Milliseconds(),
		CreatedAt:     now,
	}
	g.auditing.Add(1)
	go func() {
		defer g.auditing.Done()
		if err := g.audit.Log(context.Background(), entry); err != nil {
			g.logger.Warn("audit log error", zap.Error(err))
		}
	}()
}
