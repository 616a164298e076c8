package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/config"
	"github.com/nebula-protocol/nebula/internal/events"
	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/storage"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		// Small numbers
		{0, "0"},
		{42, "42"},
		{999, "999"},

		// Thousands
		{1000, "1,000"},
		{1001, "1,001"},
		{99999, "99,999"},
		{999999, "999,999"},

		// Millions
		{1000000, "1,000,000"},
		{1234567, "1,234,567"},
		{999999999, "999,999,999"},

		// Billions
		{1234567890, "1,234,567,890"},

		// Negative numbers
		{-1, "-1"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		result := formatNumber(tt.input)
		if result != tt.expected {
			t.Errorf("formatNumber(%d) = %s; want %s", tt.input, result, tt.expected)
		}
	}
}

func TestPruneEventsAppliesRetention(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: ":memory:", Matching: fingerprint.DefaultConfig()})
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	add := func(sev events.EventSeverity, age time.Duration) {
		ev := events.New(events.EventTypeSyncFailed, sev, "", "push deferred")
		ev.Timestamp = now.Add(-age)
		require.NoError(t, store.StoreEvent(ctx, ev))
	}
	day := 24 * time.Hour
	add(events.SeverityWarning, 40*day)
	add(events.SeverityCritical, 40*day)
	add(events.SeverityCritical, 200*day)
	add(events.SeverityInfo, time.Hour)

	retention := config.DefaultRetentionConfig()
	retention.RetentionDays = 30
	retention.RetentionCriticalDays = 180

	deleted, err := pruneEvents(ctx, store, retention, now)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left, err := store.GetEvents(ctx, events.EventFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, ev := range left {
		assert.True(t, ev.Severity == events.SeverityInfo || ev.Severity == events.SeverityCritical)
	}

	deleted, err = pruneEvents(ctx, store, retention, now)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
