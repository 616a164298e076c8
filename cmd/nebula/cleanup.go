package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/config"
	"github.com/nebula-protocol/nebula/internal/storage"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Trim the activity log according to the retention policy",
	Long: `Delete old activity log entries. Errors, patterns, solutions, decisions,
gates and version history are never touched.

Two rules apply in sequence:
  1. Time-based: regular events older than retention_days, critical events
     older than retention_critical_days
  2. Global: keep at most global_limit_events, newest first

Configure in .nebula/config.yaml under 'retention' or with
NEBULA_EVENT_RETENTION_DAYS. Defaults: 90 days, 365 days critical, 100k events.

Examples:
  nebula cleanup
  nebula cleanup --days 30`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireLocal("cleanup"); err != nil {
			return err
		}
		retention := cfg.Retention
		if cmd.Flags().Changed("days") {
			retention.RetentionDays, _ = cmd.Flags().GetInt("days")
			if retention.RetentionCriticalDays < retention.RetentionDays {
				retention.RetentionCriticalDays = retention.RetentionDays
			}
			if err := retention.Validate(); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		fmt.Printf("Event Retention Configuration:\n")
		fmt.Printf("  Regular events: %d days\n", retention.RetentionDays)
		fmt.Printf("  Critical events: %d days\n", retention.RetentionCriticalDays)
		fmt.Printf("  Global limit: %s events\n\n", formatNumber(retention.GlobalLimitEvents))

		start := time.Now()
		deleted, err := pruneEvents(ctx, svc.Store(), retention, start)
		if err != nil {
			return fmt.Errorf("cleanup failed: %w", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Cleanup complete\n", green("✓"))
		fmt.Printf("  Events deleted: %s\n", formatNumber(deleted))
		fmt.Printf("  Time taken: %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().Int("days", 0, "Override retention_days for this run")
	rootCmd.AddCommand(cleanupCmd)
}

// pruneEvents applies the retention policy to one store
func pruneEvents(ctx context.Context, store storage.Storage, retention config.RetentionConfig, now time.Time) (int, error) {
	regular, critical := retention.Cutoffs(now)
	return store.PruneEvents(ctx, regular, critical, retention.GlobalLimitEvents)
}

// formatNumber formats a number with thousand separators
func formatNumber(n int) string {
	if n < 0 {
		return fmt.Sprintf("-%s", formatNumber(-n))
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%d,%03d", n/1000, n%1000)
	}
	if n < 1000000000 {
		return fmt.Sprintf("%d,%03d,%03d", n/1000000, (n/1000)%1000, n%1000)
	}
	return fmt.Sprintf("%d,%03d,%03d,%03d", n/1000000000, (n/1000000)%1000, (n/1000)%1000, n%1000)
}
