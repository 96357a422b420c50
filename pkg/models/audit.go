package models

import "time"

// EventKind classifies a governance audit event.
type EventKind string

const (
	EventRateLimited EventKind = "rate_limited"
	EventPenalized   EventKind = "penalized"
	EventStrike      EventKind = "strike"
	EventPenaltySet  EventKind = "penalty_set"
	EventCacheHit    EventKind = "cache_hit"
	EventAnswered    EventKind = "answered"
	EventUpstreamErr EventKind = "upstream_error"
)

// AuditEntry represents a single governance decision worth keeping.
type AuditEntry struct {
	RequestID     string    `json:"request_id"`
	IdentityHash  string    `json:"identity_hash"`
	Identity      string    `json:"identity,omitempty"`
	Kind          EventKind `json:"kind"`
	Fingerprint   string    `json:"fingerprint,omitempty"`
	StrikeCount   int       `json:"strike_count,omitempty"`
	RetryAfterSec int       `json:"retry_after_sec,omitempty"`
	Question      string    `json:"question,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// AuditConfig controls the audit logging subsystem.
type AuditConfig struct {
	Enabled          bool        `yaml:"enabled"`
	DBPath           string      `yaml:"db_path"`
	RetentionDays    int         `yaml:"retention_days"`
	RedactIdentity   bool        `yaml:"redact_identity"`
	IncludeQuestions bool        `yaml:"include_questions"`
	ExcludeKinds     []EventKind `yaml:"exclude_kinds"`
	MaxFieldSize     int         `yaml:"max_field_size"` // bytes
}

// AuditQueryOpts specifies filters for querying audit entries.
type AuditQueryOpts struct {
	Kind         EventKind
	Since        time.Time
	IdentityHash string
	RequestID    string
	Limit        int
}

// AuditStat holds aggregate audit counts for a kind/day combination.
type AuditStat struct {
	Kind  EventKind
	Day   string
	Count int
}
