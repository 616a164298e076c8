package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/aggregator"
	"github.com/nebula-protocol/nebula/internal/client"
	"github.com/nebula-protocol/nebula/internal/control"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push local patterns to the central aggregator and pull global ones",
	Long: `Run one sync round: push every changed pattern since the last
acknowledged watermark, then merge patterns other projects reported.

Only fingerprints, canonical signatures and counts leave the machine. Raw
messages, file paths and stack traces never do.

With --socket the round runs inside 'nebula serve' and this command waits for
it. With --server the round is queued and this command returns immediately.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		switch {
		case serverURL != "":
			id, err := requireProject()
			if err != nil {
				return err
			}
			c, err := client.New(serverURL, id, client.WithToken(cfg.Server.Token))
			if err != nil {
				return err
			}
			if err := c.Sync(ctx, memory.MilestoneManual); err != nil {
				return err
			}
			fmt.Printf("%s Sync queued on %s\n", color.New(color.FgGreen).Sprint("✓"), serverURL)
			return nil

		case socketPath != "":
			id, err := requireProject()
			if err != nil {
				return err
			}
			c, err := control.NewClient(socketPath, id)
			if err != nil {
				return err
			}
			c.SetTimeout(5 * time.Minute)
			res, err := c.SyncNow(ctx)
			if err != nil {
				return err
			}
			return displayRound(res)
		}

		svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		engine, err := newLocalEngine(svc, cliLogger(os.Stderr))
		if err != nil {
			return err
		}

		lockPath, err := storage.AcquireSyncLock(svc.Store().Path(), "nebula-sync", Version)
		if err != nil {
			return err
		}
		defer func() { _ = storage.ReleaseSyncLock(lockPath) }()

		res, err := engine.SyncNow(ctx)
		if err != nil {
			if res != nil && !jsonOutput {
				_ = displayRound(res)
			}
			return err
		}
		return displayRound(res)
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the sync cursor and backlog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		var st *syncer.Status
		if socketPath != "" {
			id, err := requireProject()
			if err != nil {
				return err
			}
			c, err := control.NewClient(socketPath, id)
			if err != nil {
				return err
			}
			data, err := c.Status(ctx)
			if err != nil {
				return err
			}
			if data.Sync == nil {
				return fmt.Errorf("sync is not enabled on the server for %s", id)
			}
			st = data.Sync
		} else {
			if err := requireLocal("sync status"); err != nil {
				return err
			}
			svc, err := openService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			engineCfg := cfg.Engine()
			engineCfg.Enabled = false
			st, err = syncer.NewEngine(svc.ProjectID(), svc.Store(), nil, engineCfg).Status(ctx)
			if err != nil {
				return err
			}
			st.Enabled = cfg.Sync.AutoSync
		}

		if jsonOutput {
			return printJSON(st)
		}
		displaySyncStatus(st)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncStatusCmd)
	rootCmd.AddCommand(syncCmd)
}

// newAggregatorClient builds the remote for the configured central endpoint
func newAggregatorClient() (*aggregator.Client, error) {
	return aggregator.NewClient(cfg.Sync.CentralEndpoint, aggregator.WithToken(cfg.Sync.CentralToken))
}

// newLocalEngine builds an engine for a one-shot round. The auto_sync switch
// only governs background sync, so it is ignored here.
func newLocalEngine(svc *memory.Service, logger *slog.Logger, opts ...syncer.Option) (*syncer.Engine, error) {
	remote, err := newAggregatorClient()
	if err != nil {
		return nil, err
	}
	engineCfg := cfg.Engine()
	engineCfg.Enabled = true
	opts = append([]syncer.Option{syncer.WithLogger(logger), syncer.WithHolder("nebula-sync", Version)}, opts...)
	return syncer.NewEngine(svc.ProjectID(), svc.Store(), remote, engineCfg, opts...), nil
}

// newServeEngine builds the background engine `nebula serve` runs for a project
func newServeEngine(svc *memory.Service, logger *slog.Logger, metrics *observability.Metrics) *syncer.Engine {
	var remote syncer.Remote
	if cfg.Sync.AutoSync {
		c, err := newAggregatorClient()
		if err != nil {
			logger.Error("central aggregator unusable; sync disabled", "project", svc.ProjectID(), "error", err)
		} else {
			remote = c
		}
	}
	return syncer.NewEngine(svc.ProjectID(), svc.Store(), remote, cfg.Engine(),
		syncer.WithLogger(logger), syncer.WithMetrics(metrics), syncer.WithHolder("nebula-serve", Version))
}

func displayRound(res *syncer.RoundResult) error {
	if jsonOutput {
		return printJSON(res)
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s Sync round complete\n", green("✓"))
	fmt.Printf("  Pushed: %d patterns in %d batches (%d duplicates, %d conflicts)\n",
		res.Push.Pushed, res.Push.Batches, res.Push.Duplicates, res.Push.Conflicts)
	fmt.Printf("  Pulled: %d new global patterns\n", res.Pulled)
	return nil
}

func displaySyncStatus(st *syncer.Status) {
	cyan := color.New(color.FgCyan).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	state := "off"
	switch {
	case st.DisabledReason != "":
		state = red("disabled")
	case st.Running:
		state = cyan("running")
	case st.Enabled:
		state = "enabled"
	}
	fmt.Printf("\nSync: %s\n", state)
	if st.Endpoint != "" {
		fmt.Printf("  Endpoint: %s\n", st.Endpoint)
	}
	if st.DisabledReason != "" {
		fmt.Printf("  Reason: %s\n", red(st.DisabledReason))
	}
	fmt.Printf("  Backlog: %s patterns\n", formatNumber(st.Backlog))
	fmt.Printf("  Watermark: %d\n", st.LastPushedSeq)
	fmt.Printf("  Circuit: %s\n", st.Circuit)
	if st.PendingRetryCount > 0 {
		fmt.Printf("  Failed rounds since last ack: %s\n", yellow(st.PendingRetryCount))
	}
	if st.LastPushAt != nil {
		fmt.Printf("  Last push: %s\n", st.LastPushAt.Local().Format(time.RFC3339))
	}
	if st.LastPullAt != nil {
		fmt.Printf("  Last pull: %s\n", st.LastPullAt.Local().Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("  Last error: %s\n", yellow(st.LastError))
	}
	fmt.Println()
}
