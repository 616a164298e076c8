package events

import (
	"context"
	"time"
)

// EventType represents the kind of change recorded in a project's activity log.
type EventType string

const (
	// EventTypeErrorRecorded indicates a new error event was stored
	EventTypeErrorRecorded EventType = "error_recorded"
	// EventTypePatternRecurring indicates an error matched an existing pattern
	EventTypePatternRecurring EventType = "pattern_recurring"
	// EventTypeSolutionRecorded indicates a solution was linked to an error
	EventTypeSolutionRecorded EventType = "solution_recorded"
	// EventTypeSolutionPromoted indicates a solution became a pattern's recommendation
	EventTypeSolutionPromoted EventType = "solution_promoted"
	// EventTypeDecisionRecorded indicates a decision was stored
	EventTypeDecisionRecorded EventType = "decision_recorded"

	// Quality gate events
	// EventTypeGateOpened indicates a gate review started in pending
	EventTypeGateOpened EventType = "gate_opened"
	// EventTypeGateResultsUpdated indicates evidence was recorded on a pending gate
	EventTypeGateResultsUpdated EventType = "gate_results_updated"
	// EventTypeGateTransition indicates a gate reached a terminal status
	EventTypeGateTransition EventType = "gate_transition"

	// Version events
	// EventTypeVersionBumped indicates a version component was incremented
	EventTypeVersionBumped EventType = "version_bumped"
	// EventTypeVersionSet indicates the version was set explicitly
	EventTypeVersionSet EventType = "version_set"

	// Sync events
	// EventTypeSyncPushed indicates a batch was acknowledged by the aggregator
	EventTypeSyncPushed EventType = "sync_pushed"
	// EventTypeSyncFailed indicates a push exhausted its retries
	EventTypeSyncFailed EventType = "sync_failed"
	// EventTypeSyncPulled indicates remote patterns were merged
	EventTypeSyncPulled EventType = "sync_pulled"
	// EventTypeSyncDisabled indicates the sync engine refused to start
	EventTypeSyncDisabled EventType = "sync_disabled"

	// EventTypeSeedLoaded indicates a seed pack was imported
	EventTypeSeedLoaded EventType = "seed_loaded"
)

// EventSeverity represents the severity level of an event.
type EventSeverity string

const (
	// SeverityInfo indicates informational events
	SeverityInfo EventSeverity = "info"
	// SeverityWarning indicates potentially problematic events
	SeverityWarning EventSeverity = "warning"
	// SeverityError indicates error events
	SeverityError EventSeverity = "error"
	// SeverityCritical indicates critical events requiring immediate attention
	SeverityCritical EventSeverity = "critical"
)

// MemoryEvent is one entry of the project activity log. Events are written
// in the same transaction as the change they describe.
type MemoryEvent struct {
	// ID is the unique identifier for this event
	ID string `json:"id"`
	// Type categorizes the event
	Type EventType `json:"type"`
	// Timestamp is when the change was committed
	Timestamp time.Time `json:"timestamp"`
	// Severity indicates the importance level of the event
	Severity EventSeverity `json:"severity"`
	// Subject identifies the entity the event is about (error id, gate id, version)
	Subject string `json:"subject,omitempty"`
	// Message is a human-readable description
	Message string `json:"message"`
	// Data holds type-specific structured fields
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventFilter defines criteria for filtering events.
type EventFilter struct {
	// Type filters events by event type
	Type EventType
	// Severity filters events by severity level
	Severity EventSeverity
	// Subject filters events by subject
	Subject string
	// AfterTime filters events that occurred after this time
	AfterTime time.Time
	// Limit limits the number of events returned
	Limit int
}

// EventStore is implemented by storage backends that persist the activity log.
type EventStore interface {
	// StoreEvent appends an event outside of any other change
	StoreEvent(ctx context.Context, event *MemoryEvent) error

	// GetEvents retrieves events matching the filter, newest first
	GetEvents(ctx context.Context, filter EventFilter) ([]*MemoryEvent, error)
}

// GateTransitionData is attached to gate_transition events
type GateTransitionData struct {
	GateID      string `json:"gate_id"`
	PhaseRef    string `json:"phase_ref"`
	From        string `json:"from"`
	To          string `json:"to"`
	Version     string `json:"version,omitempty"`
	Automated   int    `json:"tests_automated"`
	Manual      int    `json:"tests_manual"`
	Skipped     int    `json:"tests_skipped"`
	SkipReasons int    `json:"skip_reason_count,omitempty"`
}

// VersionChangeData is attached to version_bumped and version_set events
type VersionChangeData struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Event    string `json:"event"`
	Reason   string `json:"reason,omitempty"`
	PhaseRef string `json:"phase_ref,omitempty"`
	Forced   bool   `json:"forced,omitempty"`
}

// SyncData is attached to sync events
type SyncData struct {
	Pushed     int    `json:"pushed,omitempty"`
	Conflicts  int    `json:"conflicts,omitempty"`
	Duplicates int    `json:"duplicates,omitempty"`
	Pulled     int    `json:"pulled,omitempty"`
	Watermark  int64  `json:"watermark,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	Error      string `json:"error,omitempty"`
}
