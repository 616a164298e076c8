package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nebula-protocol/nebula/internal/aggregator"
)

var aggregatorCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Run an in-memory central aggregator",
	Long: `Run a central aggregator that merges the anonymous patterns projects push
and serves them back to everyone else. State is kept in memory only, which is
enough for a team on one network or for testing sync end to end.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")
		logger, err := cfg.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr:         addr,
			Handler:      aggregator.NewServer(aggregator.WithServerToken(token), aggregator.WithServerLogger(logger)).Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(os.Stderr, "%s Aggregator listening on %s\n", green("✓"), addr)

		select {
		case err := <-errCh:
			return fmt.Errorf("aggregator: %w", err)
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	aggregatorCmd.Flags().String("addr", "127.0.0.1:7421", "Listen address")
	aggregatorCmd.Flags().String("token", os.Getenv("NEBULA_AGGREGATOR_TOKEN"), "Bearer token clients must present")
	rootCmd.AddCommand(aggregatorCmd)
}
