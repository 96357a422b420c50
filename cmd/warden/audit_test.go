package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/models"
)

func TestFormatAuditEntries(t *testing.T) {
	assert.Equal(t, "No audit entries found.\n", formatAuditEntries(nil))

	out := formatAuditEntries([]models.AuditEntry{{
		RequestID:     "req-1",
		IdentityHash:  "0123456789abcdef0123",
		Kind:          models.EventRateLimited,
		RetryAfterSec: 42,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	for _, want := range []string{"req-1", "rate_limited", "0123456789ab", "42s", "2026-01-02 03:04:05"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "0123456789abcdef0123", "identity hash shortened")
}

func TestFormatAuditStats(t *testing.T) {
	out := formatAuditStats([]models.AuditStat{{Kind: models.EventStrike, Day: "2026-01-02", Count: 7}})
	assert.Contains(t, out, "strike")
	assert.Contains(t, out, "7")
}

func TestPrintConfigSummary(t *testing.T) {
	var buf bytes.Buffer
	printConfigSummary(&buf, config.Default())
	out := buf.String()
	for _, want := range []string{"config OK", "10 per 2m0s", "3 per 10m0s, penalty 5m0s"} {
		assert.Contains(t, out, want)
	}
}
