package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/models"
)

func tempCfg(t *testing.T) models.AuditConfig {
	t.Helper()
	return models.AuditConfig{
		Enabled:          true,
		DBPath:           filepath.Join(t.TempDir(), "audit_test.db"),
		RetentionDays:    30,
		RedactIdentity:   true,
		IncludeQuestions: true,
		MaxFieldSize:     1024,
	}
}

func mustNew(t *testing.T, cfg models.AuditConfig) *Logger {
	t.Helper()
	l, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.AuditEntry {
	return models.AuditEntry{
		RequestID:   "req-001",
		Identity:    "203.0.113.7",
		Kind:        models.EventStrike,
		Fingerprint: "abc123",
		StrikeCount: 2,
		Question:    "what is the weather?",
		LatencyMs:   150,
		CreatedAt:   time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, sampleEntry()))

	entries, err := l.Query(ctx, models.AuditQueryOpts{Kind: models.EventStrike})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "req-001", e.RequestID)
	assert.Equal(t, 2, e.StrikeCount)
	assert.Equal(t, "abc123", e.Fingerprint)
	assert.Equal(t, "what is the weather?", e.Question)
}

func TestRedactIdentity(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())

	entries, err := l.Query(ctx, models.AuditQueryOpts{IdentityHash: HashIdentity("203.0.113.7")})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Identity, "identity redacted")
}

func TestKeepIdentity(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RedactIdentity = false
	l := mustNew(t, cfg)
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "203.0.113.7", entries[0].Identity)
}

func TestExcludeKinds(t *testing.T) {
	cfg := tempCfg(t)
	cfg.ExcludeKinds = []models.EventKind{models.EventStrike}
	l := mustNew(t, cfg)
	ctx := context.Background()

	require.NoError(t, l.Log(ctx, sampleEntry()))

	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFieldTruncation(t *testing.T) {
	cfg := tempCfg(t)
	cfg.MaxFieldSize = 16
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.Question = strings.Repeat("x", 100)
	entry.Detail = strings.Repeat("y", 100)
	require.NoError(t, l.Log(ctx, entry))

	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Question, 16)
	assert.Len(t, entries[0].Detail, 16)
}

func TestQuestionsOmittedByDefault(t *testing.T) {
	cfg := tempCfg(t)
	cfg.IncludeQuestions = false
	l := mustNew(t, cfg)
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	entries, err := l.Query(ctx, models.AuditQueryOpts{RequestID: "req-001"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Question)
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0 // everything is old
	l := mustNew(t, cfg)
	ctx := context.Background()

	entry := sampleEntry()
	entry.CreatedAt = time.Now().AddDate(0, 0, -1)
	_ = l.Log(ctx, entry)

	deleted, err := l.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestSweepAppliesRetention(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 7
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(0, 0, -10)
	_ = l.Log(ctx, old)
	fresh := sampleEntry()
	fresh.RequestID = "req-002"
	_ = l.Log(ctx, fresh)

	assert.Equal(t, 1, l.Sweep(time.Now()))
	entries, err := l.Query(ctx, models.AuditQueryOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "req-002", entries[0].RequestID)
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	_ = l.Log(ctx, e2)
	e3 := sampleEntry()
	e3.RequestID = "req-003"
	e3.Kind = models.EventRateLimited
	_ = l.Log(ctx, e3)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	counts := map[models.EventKind]int{}
	for _, s := range stats {
		counts[s.Kind] += s.Count
	}
	assert.Equal(t, 2, counts[models.EventStrike])
	assert.Equal(t, 1, counts[models.EventRateLimited])
}

func TestHashIdentity(t *testing.T) {
	h := HashIdentity("203.0.113.7")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashIdentity("203.0.113.7"), "hash is deterministic")
}

func TestNilLoggerSafe(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.Log(context.Background(), sampleEntry()))
	assert.Equal(t, 0, l.Sweep(time.Now()))
}

func TestNewInvalidPath(t *testing.T) {
	cfg := models.AuditConfig{
		Enabled: true,
		DBPath:  filepath.Join(os.TempDir(), "nonexistent", "deep", "path", "audit.db"),
	}
	_, err := New(cfg, nil)
	assert.Error(t, err)
}
