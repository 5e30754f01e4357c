// Package model defines the persisted data shapes of spec §3.
package model

import "time"

// ProfileType enumerates the backend a Profile authenticates against.
type ProfileType string

const (
	ProfilePostgres ProfileType = "postgresql"
	ProfileSSH      ProfileType = "ssh"
	ProfileAPI      ProfileType = "api"
	ProfileVault    ProfileType = "vault"
)

// Profile is a named, typed bag of non-secret data and encrypted secrets.
type Profile struct {
	Name      string                 `json:"name"`
	Type      ProfileType            `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Secrets   map[string][]byte      `json:"secrets"` // sealed at rest
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// ProfileSummary is the listing-safe projection of a Profile: secret values
// are never included, only the set of secret key names.
type ProfileSummary struct {
	Name       string      `json:"name"`
	Type       ProfileType `json:"type"`
	SecretKeys []string    `json:"secret_keys"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TargetBinding maps a project target's profile roles to profile names.
type TargetBinding struct {
	SSHProfile      string `json:"ssh_profile,omitempty"`
	EnvProfile      string `json:"env_profile,omitempty"`
	PostgresProfile string `json:"postgres_profile,omitempty"`
	APIProfile      string `json:"api_profile,omitempty"`
	VaultProfile    string `json:"vault_profile,omitempty"`
	Cwd             string `json:"cwd,omitempty"`
	EnvPath         string `json:"env_path,omitempty"`
}

// Project binds a named default_target and a set of named targets.
type Project struct {
	Name          string                   `json:"name"`
	Description   string                   `json:"description,omitempty"`
	DefaultTarget string                   `json:"default_target"`
	Targets       map[string]TargetBinding `json:"targets"`
}

// StateScope distinguishes session-lifetime from persisted state entries.
type StateScope string

const (
	ScopeSession    StateScope = "session"
	ScopePersistent StateScope = "persistent"
)

// StateEntry is a single addressable state value.
type StateEntry struct {
	Scope     StateScope  `json:"scope"`
	Key       string      `json:"key"`
	Value     interface{} `json:"value"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RetryPolicy configures a runbook step's retry/until behavior.
type RetryPolicy struct {
	MaxAttempts int        `json:"max_attempts"`
	DelayMS     int        `json:"delay_ms"`
	Until       *Predicate `json:"until,omitempty"`
}

// Predicate evaluates a path within a compiled scope against an operator.
type Predicate struct {
	Path   string      `json:"path"`
	Op     string      `json:"op"` // equals|not_equals|gt|gte|lt|lte|in|exists|matches
	Value  interface{} `json:"value,omitempty"`
}

// Step is a single ordered runbook operation.
type Step struct {
	ID           string                 `json:"id"`
	Tool         string                 `json:"tool"`
	Args         map[string]interface{} `json:"args"`
	When         *Predicate             `json:"when,omitempty"`
	Retry        *RetryPolicy           `json:"retry,omitempty"`
	StopOnError  *bool                  `json:"stop_on_error,omitempty"`
}

// Runbook is a declarative, ordered multi-step interpreter program.
type Runbook struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Inputs      map[string]interface{} `json:"inputs,omitempty"`
	Steps       []Step                 `json:"steps"`
	When        *Predicate             `json:"when,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
}

// AuditStatus is the terminal outcome of an audited operation.
type AuditStatus string

const (
	AuditOK    AuditStatus = "ok"
	AuditError AuditStatus = "error"
)

// AuditEntry is one append-only audit log line.
type AuditEntry struct {
	Timestamp     time.Time              `json:"timestamp"`
	Tool          string                 `json:"tool"`
	Action        string                 `json:"action,omitempty"`
	Status        AuditStatus            `json:"status"`
	TraceID       string                 `json:"trace_id"`
	SpanID        string                 `json:"span_id"`
	ParentSpanID  string                 `json:"parent_span_id,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// CacheEntryType distinguishes JSON-valued from file-backed cache entries.
type CacheEntryType string

const (
	CacheJSON CacheEntryType = "json"
	CacheFile CacheEntryType = "file"
)

// CacheEntry is the on-disk envelope for one cache key (spec §3/§6).
type CacheEntry struct {
	Type      CacheEntryType         `json:"type"`
	CreatedAt time.Time              `json:"created_at"`
	TTLMS     int64                  `json:"ttl_ms"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
	Value     interface{}            `json:"value,omitempty"`
	FileRef   string                 `json:"file_ref,omitempty"`
}

// Expired reports whether the entry has outlived its TTL as of now.
func (c CacheEntry) Expired(now time.Time) bool {
	if c.TTLMS <= 0 {
		return false
	}
	return now.After(c.CreatedAt.Add(time.Duration(c.TTLMS) * time.Millisecond))
}
