package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/nebula-protocol/nebula/internal/events"
)

// displayActivityEvent prints one event in a two-line format
func displayActivityEvent(event *events.MemoryEvent) {
	emoji := getEventEmoji(event)
	severityColor := getSeverityColor(event.Severity)
	timestamp := event.Timestamp.Local().Format("01-02 15:04:05")
	eventType := color.New(color.FgMagenta).Sprint(event.Type)

	maxMessageLen := 60 - len(string(event.Type))
	fmt.Printf("%s [%s] %s: %s\n", emoji, timestamp, eventType,
		severityColor.Sprint(truncateString(event.Message, maxMessageLen)))

	if metadata := extractEventMetadata(event); metadata != "" {
		gray := color.New(color.FgHiBlack)
		fmt.Printf("  %s\n", gray.Sprint(metadata))
	} else {
		fmt.Println()
	}
}

// getEventEmoji returns the icon for an event, by type then severity
func getEventEmoji(event *events.MemoryEvent) string {
	switch event.Type {
	case events.EventTypeErrorRecorded:
		return "🐛"
	case events.EventTypePatternRecurring:
		return "↻"
	case events.EventTypeSolutionRecorded:
		return "🩹"
	case events.EventTypeSolutionPromoted:
		return "⭐"
	case events.EventTypeDecisionRecorded:
		return "🧭"
	case events.EventTypeGateOpened, events.EventTypeGateResultsUpdated:
		return "🛡️"
	case events.EventTypeGateTransition:
		return "🚦"
	case events.EventTypeVersionBumped, events.EventTypeVersionSet:
		return "🏷️"
	case events.EventTypeSyncPushed:
		return "⬆️"
	case events.EventTypeSyncPulled:
		return "⬇️"
	case events.EventTypeSeedLoaded:
		return "🌱"
	}

	switch event.Severity {
	case events.SeverityInfo:
		return "ℹ️"
	case events.SeverityWarning:
		return "⚠️"
	case events.SeverityError:
		return "❌"
	case events.SeverityCritical:
		return "🔥"
	default:
		return "•"
	}
}

// getSeverityColor returns the color for a severity level
func getSeverityColor(severity events.EventSeverity) *color.Color {
	switch severity {
	case events.SeverityInfo:
		return color.New(color.FgCyan)
	case events.SeverityWarning:
		return color.New(color.FgYellow)
	case events.SeverityError:
		return color.New(color.FgRed)
	case events.SeverityCritical:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgWhite)
	}
}

// extractEventMetadata renders the key data fields of an event, pipe-separated
func extractEventMetadata(event *events.MemoryEvent) string {
	var fields []string

	switch event.Type {
	case events.EventTypeGateTransition:
		if d, err := event.GetGateTransitionData(); err == nil {
			fields = []string{
				d.PhaseRef,
				d.From + "→" + d.To,
				fmt.Sprintf("%d automated", d.Automated),
				fmt.Sprintf("%d manual", d.Manual),
				d.Version,
			}
		}

	case events.EventTypeVersionBumped, events.EventTypeVersionSet:
		if d, err := event.GetVersionChangeData(); err == nil {
			forced := ""
			if d.Forced {
				forced = "forced"
			}
			fields = []string{d.From + "→" + d.To, d.Event, d.PhaseRef, forced}
		}

	case events.EventTypeSyncPushed, events.EventTypeSyncPulled, events.EventTypeSyncFailed,
		events.EventTypeSyncDisabled, events.EventTypeSeedLoaded:
		if d, err := event.GetSyncData(); err == nil {
			fields = []string{
				countField(d.Pushed, "pushed"),
				countField(d.Duplicates, "dupes"),
				countField(d.Conflicts, "conflicts"),
				countField(d.Pulled, "pulled"),
				countField(d.Attempts, "attempts"),
				truncateString(d.Error, 40),
			}
		}

	default:
		fields = append(fields, shortHash(event.Subject))
		if hash, ok := event.Data["fingerprint_hash"].(string); ok {
			fields = append(fields, shortHash(hash))
		}
		for _, key := range []string{"phase_ref", "solution_id"} {
			if v, ok := event.Data[key].(string); ok {
				fields = append(fields, v)
			}
		}
		if v, ok := event.Data["effectiveness"]; ok {
			fields = append(fields, fmt.Sprintf("effectiveness %v", v))
		}
	}

	return truncateString(joinFields(fields), 70)
}

func countField(n int, label string) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d %s", n, label)
}

// joinFields joins the non-empty fields with " | "
func joinFields(fields []string) string {
	nonEmpty := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			nonEmpty = append(nonEmpty, f)
		}
	}
	return strings.Join(nonEmpty, " | ")
}

// truncateString truncates s to maxLen runes, adding "..." when cut
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return string(runes[:maxLen-3]) + "..."
}
