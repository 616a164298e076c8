package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/events"
)

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show the project's recent activity log",
	Long: `Display recent entries from the project activity log: recorded errors,
solutions, decisions, gate transitions, version changes and sync rounds.

Examples:
  nebula activity                      # Last 20 events
  nebula activity -n 50                # Last 50 events
  nebula activity --type gate_transition
  nebula activity --severity warning   # Only warnings
  nebula activity --subject 42         # Events about error #42`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLocal("activity"); err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		eventType, _ := cmd.Flags().GetString("type")
		severity, _ := cmd.Flags().GetString("severity")
		subject, _ := cmd.Flags().GetString("subject")

		ctx := context.Background()
		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		var eventList []*events.MemoryEvent
		if eventType == "" && severity == "" && subject == "" {
			eventList, err = svc.RecentEvents(ctx, limit)
		} else {
			eventList, err = svc.Store().GetEvents(ctx, events.EventFilter{
				Type:     events.EventType(eventType),
				Severity: events.EventSeverity(severity),
				Subject:  subject,
				Limit:    limit,
			})
		}
		if err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}

		if jsonOutput {
			return printJSON(eventList)
		}
		if len(eventList) == 0 {
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("\n%s No events found matching the criteria\n\n", yellow("✨"))
			return nil
		}

		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("\n%s Recent Activity (%d events):\n\n", cyan("📋"), len(eventList))
		// Newest last, so the feed reads top to bottom
		for i := len(eventList) - 1; i >= 0; i-- {
			displayActivityEvent(eventList[i])
		}
		fmt.Println()
		return nil
	},
}

func init() {
	activityCmd.Flags().IntP("limit", "n", 20, "Number of recent events to show")
	activityCmd.Flags().StringP("type", "t", "", "Filter by event type (e.g. error_recorded, sync_failed)")
	activityCmd.Flags().StringP("severity", "s", "", "Filter by severity (info, warning, error, critical)")
	activityCmd.Flags().String("subject", "", "Filter by subject (error id, gate id, pattern hash)")
	rootCmd.AddCommand(activityCmd)
}
