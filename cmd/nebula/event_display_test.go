package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/events"
)

func TestExtractEventMetadata(t *testing.T) {
	gate, err := events.NewGateTransitionEvent("gate passed", events.GateTransitionData{
		GateID: "g1", PhaseRef: "phase-2", From: "pending", To: "passed",
		Version: "0.2.0", Automated: 12, Manual: 1,
	})
	require.NoError(t, err)

	bump, err := events.NewVersionEvent(events.EventTypeVersionBumped, "bumped", events.VersionChangeData{
		From: "0.0.1", To: "0.0.2", Event: "solution_effective",
	})
	require.NoError(t, err)

	forced, err := events.NewVersionEvent(events.EventTypeVersionSet, "set", events.VersionChangeData{
		From: "0.3.0", To: "0.1.0", Event: "manual", Forced: true,
	})
	require.NoError(t, err)

	pushed, err := events.NewSyncEvent(events.EventTypeSyncPushed, events.SeverityInfo, "pushed",
		events.SyncData{Pushed: 7, Duplicates: 2})
	require.NoError(t, err)

	failed, err := events.NewSyncEvent(events.EventTypeSyncFailed, events.SeverityWarning, "failed",
		events.SyncData{Attempts: 3, Error: "connection refused"})
	require.NoError(t, err)

	recorded := events.New(events.EventTypeErrorRecorded, events.SeverityInfo, "err-1", "error recorded")
	recorded.Data = map[string]interface{}{
		"fingerprint_hash": "0123456789abcdef0123",
		"phase_ref":        "phase-1",
	}

	solution := events.New(events.EventTypeSolutionRecorded, events.SeverityInfo, "err-1", "solution recorded")
	solution.Data = map[string]interface{}{"solution_id": "sol-9", "effectiveness": 4}

	tests := []struct {
		name     string
		event    *events.MemoryEvent
		expected string
	}{
		{"gate transition", gate, "phase-2 | pending→passed | 12 automated | 1 manual | 0.2.0"},
		{"version bump", bump, "0.0.1→0.0.2 | solution_effective"},
		{"forced version set", forced, "0.3.0→0.1.0 | manual | forced"},
		{"sync pushed", pushed, "7 pushed | 2 dupes"},
		{"sync failed", failed, "3 attempts | connection refused"},
		{"error recorded", recorded, "err-1 | 0123456789ab | phase-1"},
		{"solution recorded", solution, "err-1 | sol-9 | effectiveness 4"},
		{"empty", events.New(events.EventTypeDecisionRecorded, events.SeverityInfo, "", "decided"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractEventMetadata(tt.event))
		})
	}
}

func TestTruncateString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"this is a long message", 10, "this is..."},
		{"héllo wörld", 8, "héllo..."},
		{"abc", 2, "..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, truncateString(tt.input, tt.maxLen), "input %q", tt.input)
	}
}

func TestGetEventEmojiFallsBackToSeverity(t *testing.T) {
	assert.Equal(t, "🐛", getEventEmoji(events.New(events.EventTypeErrorRecorded, events.SeverityInfo, "", "")))
	assert.Equal(t, "🔥", getEventEmoji(events.New(events.EventType("unknown"), events.SeverityCritical, "", "")))
	assert.Equal(t, "•", getEventEmoji(events.New(events.EventType("unknown"), events.EventSeverity("odd"), "", "")))
}
