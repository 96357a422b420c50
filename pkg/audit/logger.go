// Package audit keeps a SQLite log of governance events.
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
)

// Logger writes and queries governance events in a dedicated SQLite database.
// A nil *Logger accepts and drops every event.
type Logger struct {
	db      *sql.DB
	cfg     models.AuditConfig
	exclude map[models.EventKind]bool
	logger  *zap.Logger
}

// New opens the audit database and creates the schema.
func New(cfg models.AuditConfig, logger *zap.Logger) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}

	exc := make(map[models.EventKind]bool, len(cfg.ExcludeKinds))
	for _, k := range cfg.ExcludeKinds {
		exc[k] = true
	}
	logger = logging.OrNop(logger)

	return &Logger{db: db, cfg: cfg, exclude: exc, logger: logger}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS governance_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id      TEXT NOT NULL,
			identity_hash   TEXT NOT NULL,
			identity        TEXT,
			kind            TEXT NOT NULL,
			fingerprint     TEXT,
			strike_count    INTEGER NOT NULL DEFAULT 0,
			retry_after_sec INTEGER NOT NULL DEFAULT 0,
			question        TEXT,
			detail          TEXT,
			latency_ms      INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind ON governance_events(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_events_created ON governance_events(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_identity ON governance_events(identity_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_events_request ON governance_events(request_id)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Log inserts an event, applying kind exclusion, identity redaction,
// question inclusion and field truncation from the config.
func (l *Logger) Log(ctx context.Context, entry models.AuditEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if l.exclude[entry.Kind] {
		return nil
	}

	if entry.IdentityHash == "" {
		entry.IdentityHash = HashIdentity(entry.Identity)
	}
	if l.cfg.RedactIdentity {
		entry.Identity = ""
	}
	if !l.cfg.IncludeQuestions {
		entry.Question = ""
	}
	entry.Question = l.truncate(entry.Question)
	entry.Detail = l.truncate(entry.Detail)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO governance_events
		(request_id, identity_hash, identity, kind, fingerprint, strike_count,
		 retry_after_sec, question, detail, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.IdentityHash, entry.Identity, string(entry.Kind),
		entry.Fingerprint, entry.StrikeCount, entry.RetryAfterSec,
		entry.Question, entry.Detail, entry.LatencyMs, entry.CreatedAt.UTC(),
	)
	return err
}

func (l *Logger) truncate(s string) string {
	if l.cfg.MaxFieldSize > 0 && len(s) > l.cfg.MaxFieldSize {
		return s[:l.cfg.MaxFieldSize]
	}
	return s
}

// Query returns events matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.AuditQueryOpts) ([]models.AuditEntry, error) {
	q := `SELECT request_id, identity_hash, identity, kind, fingerprint, strike_count,
		retry_after_sec, question, detail, latency_ms, created_at
		FROM governance_events WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Kind != "" {
		q += " AND kind = ?"
		args = append(args, string(opts.Kind))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UTC())
	}
	if opts.IdentityHash != "" {
		q += " AND identity_hash = ?"
		args = append(args, opts.IdentityHash)
	}

	q += " ORDER BY created_at DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var kind string
		var identity, fingerprint, question, detail sql.NullString
		if err := rows.Scan(
			&e.RequestID, &e.IdentityHash, &identity, &kind, &fingerprint,
			&e.StrikeCount, &e.RetryAfterSec, &question, &detail,
			&e.LatencyMs, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		e.Kind = models.EventKind(kind)
		e.Identity = identity.String
		e.Fingerprint = fingerprint.String
		e.Question = question.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns event counts grouped by kind and day.
func (l *Logger) Stats(ctx context.Context) ([]models.AuditStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT kind, date(created_at) as day, count(*) as cnt
		 FROM governance_events GROUP BY kind, day ORDER BY day DESC, kind`)
	if err != nil {
		return nil, fmt.Errorf("audit stats: %w", err)
	}
	defer rows.Close()

	var stats []models.AuditStat
	for rows.Next() {
		var s models.AuditStat
		var kind string
		var day sql.NullString
		if err := rows.Scan(&kind, &day, &s.Count); err != nil {
			return nil, fmt.Errorf("scan audit stat: %w", err)
		}
		s.Kind = models.EventKind(kind)
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes events older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	return l.deleteBefore(ctx, time.Now().AddDate(0, 0, -l.cfg.RetentionDays))
}

// Sweep applies retention relative to now so the logger can run as a
// sweeper target.
func (l *Logger) Sweep(now time.Time) int {
	if l == nil || l.cfg.RetentionDays <= 0 {
		return 0
	}
	n, err := l.deleteBefore(context.Background(), now.AddDate(0, 0, -l.cfg.RetentionDays))
	if err != nil {
		l.logger.Warn("audit retention failed", zap.Error(err))
		return 0
	}
	return int(n)
}

func (l *Logger) deleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM governance_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("audit cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// HashIdentity returns the SHA-256 hex hash of an identity.
func HashIdentity(identity string) string {
	h := sha256.Sum256([]byte(identity))
	return hex.EncodeToString(h[:])
}
