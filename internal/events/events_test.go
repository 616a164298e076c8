package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGateTransitionEvent(t *testing.T) {
	data := GateTransitionData{GateID: "g-1", PhaseRef: "phase-2", From: "pending", To: "failed", Automated: 10}
	ev, err := NewGateTransitionEvent("gate failed", data)
	require.NoError(t, err)

	assert.Equal(t, EventTypeGateTransition, ev.Type)
	assert.Equal(t, SeverityWarning, ev.Severity)
	assert.Equal(t, "g-1", ev.Subject)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())

	got, err := ev.GetGateTransitionData()
	require.NoError(t, err)
	assert.Equal(t, data, *got)
}

func TestNewVersionEventForcedIsWarning(t *testing.T) {
	ev, err := NewVersionEvent(EventTypeVersionSet, "set", VersionChangeData{From: "1.0.0", To: "0.9.0", Event: "set", Forced: true})
	require.NoError(t, err)
	assert.Equal(t, SeverityWarning, ev.Severity)
	assert.Equal(t, "0.9.0", ev.Subject)

	data, err := ev.GetVersionChangeData()
	require.NoError(t, err)
	assert.True(t, data.Forced)
}

func TestSyncDataRoundTrip(t *testing.T) {
	ev, err := NewSyncEvent(EventTypeSyncPushed, SeverityInfo, "pushed", SyncData{Pushed: 3, Watermark: 42})
	require.NoError(t, err)

	data, err := ev.GetSyncData()
	require.NoError(t, err)
	assert.Equal(t, 3, data.Pushed)
	assert.Equal(t, int64(42), data.Watermark)
}

func TestEventIDsUnique(t *testing.T) {
	a := New(EventTypeErrorRecorded, SeverityInfo, "1", "a")
	b := New(EventTypeErrorRecorded, SeverityInfo, "1", "a")
	assert.NotEqual(t, a.ID, b.ID)
}
