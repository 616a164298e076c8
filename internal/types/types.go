package types

import (
	"strings"
	"time"
)

// UnknownSignature is the fingerprint assigned to empty or whitespace-only messages.
// Events carrying it are stored but never aggregated or synced.
const UnknownSignature = "unknown"

// Level is the severity of a recorded error event
type Level string

const (
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// IsValid checks if the level value is valid
func (l Level) IsValid() bool {
	switch l {
	case LevelError, LevelCritical:
		return true
	}
	return false
}

// ErrorEvent is a single occurrence of a development error.
// Events are append-only: only Resolved and SolutionRef change after insert.
type ErrorEvent struct {
	ID              int64                  `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	Level           Level                  `json:"level" validate:"omitempty,oneof=ERROR CRITICAL"`
	PhaseRef        string                 `json:"phase_ref,omitempty" validate:"max=128"`
	FilePath        string                 `json:"file_path,omitempty" validate:"max=1024"`
	LineNumber      int                    `json:"line_number,omitempty" validate:"min=0"`
	ErrorCode       string                 `json:"error_code,omitempty" validate:"max=128"`
	Message         string                 `json:"message" validate:"maxbytes"`
	StackTrace      string                 `json:"stack_trace,omitempty" validate:"maxbytes"`
	Context         map[string]interface{} `json:"context,omitempty"`
	FingerprintHash string                 `json:"fingerprint_hash"`
	Resolved        bool                   `json:"resolved"`
	SolutionRef     string                 `json:"solution_ref,omitempty"`
}

// Validate checks the caller-supplied fields of an error event
func (e *ErrorEvent) Validate() error {
	return validateStruct(e)
}

// ErrorPattern aggregates every ErrorEvent sharing a fingerprint
type ErrorPattern struct {
	FingerprintHash        string        `json:"fingerprint_hash"`
	CanonicalSignature     string        `json:"canonical_signature"`
	OccurrenceCount        int           `json:"occurrence_count"`
	FirstSeen              time.Time     `json:"first_seen"`
	LastSeen               time.Time     `json:"last_seen"`
	RecommendedSolutionRef string        `json:"recommended_solution_ref,omitempty"`
	RemoteHint             *KnownPattern `json:"remote_hint,omitempty"` // cross-project data, never merged into local counts
}

// IsSentinel reports whether this is the placeholder pattern for empty messages
func (p *ErrorPattern) IsSentinel() bool {
	return p.FingerprintHash == UnknownSignature
}

// KnownPattern is a pattern learned outside this project, either pulled from
// the central aggregator or loaded from a seed pack.
type KnownPattern struct {
	FingerprintHash       string    `json:"fingerprint_hash" yaml:"fingerprint_hash,omitempty"`
	CanonicalSignature    string    `json:"canonical_signature" yaml:"signature"`
	Source                string    `json:"source" yaml:"-"`
	GlobalOccurrenceCount int       `json:"global_occurrence_count" yaml:"occurrences,omitempty"`
	ProjectCount          int       `json:"project_count" yaml:"projects,omitempty"`
	AvgEffectiveness      float64   `json:"avg_effectiveness,omitempty" yaml:"effectiveness,omitempty"`
	SuggestedSolution     string    `json:"suggested_solution,omitempty" yaml:"solution,omitempty"`
	SuggestedSolutionRef  string    `json:"suggested_solution_ref,omitempty" yaml:"solution_ref,omitempty"`
	UpdatedAt             time.Time `json:"updated_at" yaml:"-"`
}

// Known pattern sources
const (
	SourceCentral    = "central"
	SourceSeedPrefix = "seed:"
)

// AppliedBy records who applied a solution
type AppliedBy string

const (
	AppliedByAI    AppliedBy = "ai"
	AppliedByHuman AppliedBy = "human"
)

// IsValid checks if the applied-by value is valid
func (a AppliedBy) IsValid() bool {
	switch a {
	case AppliedByAI, AppliedByHuman:
		return true
	}
	return false
}

// RecommendThreshold is the effectiveness at which a solution becomes the
// pattern's recommended solution.
const RecommendThreshold = 4

// Solution is an immutable fix record linked to one error event
type Solution struct {
	ID            string    `json:"id"`
	ErrorID       int64     `json:"error_id" validate:"required,gt=0"`
	Description   string    `json:"description" validate:"required,maxbytes"`
	CodeChangeRef string    `json:"code_change_ref,omitempty" validate:"max=512"`
	AppliedBy     AppliedBy `json:"applied_by" validate:"required,oneof=ai human"`
	Effectiveness int       `json:"effectiveness" validate:"required,min=1,max=5"`
	AppliedAt     time.Time `json:"applied_at"`
}

// Validate checks the solution fields
func (s *Solution) Validate() error {
	return validateStruct(s)
}

// Decision is an architectural or process decision. Never mutated.
type Decision struct {
	ID           string    `json:"id"`
	PhaseRef     string    `json:"phase_ref,omitempty" validate:"max=128"`
	Category     string    `json:"category" validate:"required,max=64"`
	Question     string    `json:"question" validate:"required,maxbytes"`
	ChosenOption string    `json:"chosen_option" validate:"required,maxbytes"`
	Alternatives []string  `json:"alternatives,omitempty" validate:"max=32,dive,max=1024"`
	Rationale    string    `json:"rationale,omitempty" validate:"maxbytes"`
	MadeBy       string    `json:"made_by" validate:"required,max=128"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the decision fields
func (d *Decision) Validate() error {
	return validateStruct(d)
}

// GateStatus is the state of a quality gate review
type GateStatus string

const (
	GatePending GateStatus = "pending"
	GatePassed  GateStatus = "passed"
	GateFailed  GateStatus = "failed"
	GateSkipped GateStatus = "skipped"
)

// IsValid checks if the gate status value is valid
func (s GateStatus) IsValid() bool {
	switch s {
	case GatePending, GatePassed, GateFailed, GateSkipped:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s
func (s GateStatus) IsTerminal() bool {
	return s == GatePassed || s == GateFailed || s == GateSkipped
}

// GateResults holds the evidence accumulated while a gate is pending
type GateResults struct {
	TestsAutomated        int      `json:"tests_automated" validate:"min=0"`
	TestsAutomatedPassing int      `json:"tests_automated_passing" validate:"min=0,ltefield=TestsAutomated"`
	TestsManual           int      `json:"tests_manual" validate:"min=0"`
	TestsManualPassing    int      `json:"tests_manual_passing" validate:"min=0,ltefield=TestsManual"`
	TestsSkipped          int      `json:"tests_skipped" validate:"min=0"`
	SkipReasons           []string `json:"skip_reasons,omitempty" validate:"max=64,dive,required,max=1024"`
	DurationMinutes       int      `json:"duration_minutes" validate:"min=0"`
	PerformanceAcceptable bool     `json:"performance_acceptable"`
	Notes                 string   `json:"notes,omitempty" validate:"maxbytes"`
	Reviewer              string   `json:"reviewer,omitempty" validate:"max=128"`
	ReviewerType          string   `json:"reviewer_type,omitempty" validate:"omitempty,oneof=ai human"`
}

// Validate checks the gate results, including the skip justification rule
func (r *GateResults) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.TestsSkipped > 0 && !hasReason(r.SkipReasons) {
		return Invalid("skip_reasons", "required when tests_skipped > 0")
	}
	return nil
}

func hasReason(reasons []string) bool {
	for _, r := range reasons {
		if strings.TrimSpace(r) != "" {
			return true
		}
	}
	return false
}

// HasSkipReasons reports whether at least one non-blank skip reason was given
func (r *GateResults) HasSkipReasons() bool {
	return hasReason(r.SkipReasons)
}

// QualityGate is the record of one phase-completion review.
// It reaches a terminal status exactly once and is immutable afterwards.
type QualityGate struct {
	ID          string     `json:"id"`
	PhaseRef    string     `json:"phase_ref"`
	PhaseNumber int        `json:"phase_number"`
	Status      GateStatus `json:"status"`
	GateResults
	VersionAtDecision string     `json:"version_at_decision,omitempty"`
	OpenedAt          time.Time  `json:"opened_at"`
	DecidedAt         *time.Time `json:"decided_at,omitempty"`
}

// GateDecision is a request to move a gate out of pending.
// An empty Status means "pass if the criteria allow it".
type GateDecision struct {
	PhaseRef    string      `json:"phase_ref" validate:"required,max=128"`
	PhaseNumber int         `json:"phase_number" validate:"min=0"`
	Status      GateStatus  `json:"status,omitempty" validate:"omitempty,oneof=passed failed skipped"`
	Results     GateResults `json:"results"`
}

// Validate checks the decision request
func (d *GateDecision) Validate() error {
	if err := validateStruct(d); err != nil {
		return err
	}
	return d.Results.Validate()
}

// VersionEvent names what caused a version change
type VersionEvent string

const (
	VersionEventPatch VersionEvent = "patch"
	VersionEventMinor VersionEvent = "minor"
	VersionEventMajor VersionEvent = "major"
	VersionEventSet   VersionEvent = "set"
)

// VersionHistoryEntry is one row of the version audit trail
type VersionHistoryEntry struct {
	Version   string       `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Event     VersionEvent `json:"event"`
	Reason    string       `json:"reason,omitempty"`
	PhaseRef  string       `json:"phase_ref,omitempty"`
}

// VersionState is the project's singleton semantic version
type VersionState struct {
	Major          int                   `json:"major"`
	Minor          int                   `json:"minor"`
	Patch          int                   `json:"patch"`
	LastBumpReason string                `json:"last_bump_reason,omitempty"`
	UpdatedAt      time.Time             `json:"updated_at"`
	History        []VersionHistoryEntry `json:"history,omitempty"`
}

// SyncCursor tracks what the sync engine has already delivered.
// Only the sync engine mutates it, and only after a remote acknowledgment.
type SyncCursor struct {
	LastPushedEventID     int64      `json:"last_pushed_event_id"`
	LastPushedPatternHash string     `json:"last_pushed_pattern_hash,omitempty"`
	LastPushedSeq         int64      `json:"last_pushed_seq"`
	LastPullTimestamp     *time.Time `json:"last_pull_timestamp,omitempty"`
	LastPullHash          string     `json:"last_pull_hash,omitempty"`
	PendingRetryCount     int        `json:"pending_retry_count"`
	LastPushAt            *time.Time `json:"last_push_at,omitempty"`
	LastError             string     `json:"last_error,omitempty"`
}

// PullPosition is the last aggregator entry merged by a pull. Update times
// can collide, so the hash breaks ties.
type PullPosition struct {
	UpdatedAt       time.Time
	FingerprintHash string
}

// SimilarMatch is a stored error whose pattern resembles a query
type SimilarMatch struct {
	Event   ErrorEvent   `json:"event"`
	Pattern ErrorPattern `json:"pattern"`
	Score   float64      `json:"score"`
	Exact   bool         `json:"exact"`
}

// RecordErrorResult is returned by recordError
type RecordErrorResult struct {
	LocalID     int64          `json:"local_id"`
	Pattern     ErrorPattern   `json:"pattern"`
	IsRecurring bool           `json:"is_recurring"`
	Solutions   []Solution     `json:"solutions,omitempty"`
	Similar     []SimilarMatch `json:"similar,omitempty"`
	RemoteHint  *KnownPattern  `json:"remote_hint,omitempty"`
}

// ErrorFilter narrows ListErrors
type ErrorFilter struct {
	PhaseRef        string
	FingerprintHash string
	Level           Level
	Resolved        *bool
	Since           *time.Time
	Limit           int
}

// PatternAggregate is the anonymized view of a pattern that may leave the project
type PatternAggregate struct {
	Seq                int64              `json:"-"`
	FingerprintHash    string             `json:"fingerprint_hash"`
	CanonicalSignature string             `json:"canonical_signature"`
	OccurrenceCount    int                `json:"occurrence_count"`
	Effectiveness      EffectivenessStats `json:"effectiveness_stats"`
}

// EffectivenessStats summarizes solution effectiveness without identifying solutions
type EffectivenessStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
}

// SyncBatch is a slice of changed patterns ready to push
type SyncBatch struct {
	Patterns   []PatternAggregate `json:"patterns"`
	MaxSeq     int64              `json:"max_seq"`
	LastHash   string             `json:"last_hash,omitempty"`
	MaxEventID int64              `json:"max_event_id"`
}

// PushAck is what the sync engine commits after the aggregator acknowledges a batch
type PushAck struct {
	Seq         int64
	PatternHash string
	EventID     int64
	Pushed      int
	Duplicates  int
	Conflicts   int
}
