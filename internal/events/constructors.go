package events

import (
	"time"

	"github.com/google/uuid"
)

// New creates an event with a fresh ID and the current time.
func New(eventType EventType, severity EventSeverity, subject, message string) *MemoryEvent {
	return &MemoryEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Severity:  severity,
		Subject:   subject,
		Message:   message,
	}
}

// NewGateTransitionEvent creates a gate_transition event with type-safe data.
func NewGateTransitionEvent(message string, data GateTransitionData) (*MemoryEvent, error) {
	severity := SeverityInfo
	if data.To == "failed" {
		severity = SeverityWarning
	}
	event := New(EventTypeGateTransition, severity, data.GateID, message)
	if err := event.SetGateTransitionData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewVersionEvent creates a version_bumped or version_set event with type-safe data.
func NewVersionEvent(eventType EventType, message string, data VersionChangeData) (*MemoryEvent, error) {
	severity := SeverityInfo
	if data.Forced {
		severity = SeverityWarning
	}
	event := New(eventType, severity, data.To, message)
	if err := event.SetVersionChangeData(data); err != nil {
		return nil, err
	}
	return event, nil
}

// NewSyncEvent creates a sync event with type-safe data.
func NewSyncEvent(eventType EventType, severity EventSeverity, message string, data SyncData) (*MemoryEvent, error) {
	event := New(eventType, severity, "", message)
	if err := event.SetSyncData(data); err != nil {
		return nil, err
	}
	return event, nil
}
