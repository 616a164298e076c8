package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nebula-protocol/nebula/internal/api"
	"github.com/nebula-protocol/nebula/internal/control"
	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/observability"
	"github.com/nebula-protocol/nebula/internal/project"
	"github.com/nebula-protocol/nebula/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve project memories over HTTP and the control socket",
	Long: `Run the memory server. Every project lives in its own store under
data_dir/<project-id>/ and is opened on first use.

With sync.auto_sync enabled, each open project also runs a background sync
engine against sync.central_endpoint.

Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		logger, err := cfg.Log.NewLogger(os.Stderr)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, logger)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, 127.0.0.1:7420)")
	rootCmd.AddCommand(serveCmd)
}

// engineSet tracks the sync engine of every open project
type engineSet struct {
	mu      sync.Mutex
	engines map[string]*syncer.Engine
}

func (s *engineSet) add(id string, e *syncer.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engines[id] = e
}

func (s *engineSet) lookup(id string) *syncer.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engines[id]
}

// serve runs every server component until ctx is done or one fails
func serve(ctx context.Context, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	g, gctx := errgroup.WithContext(ctx)
	engines := &engineSet{engines: map[string]*syncer.Engine{}}

	startEngine := func(_ context.Context, svc *memory.Service) error {
		if gctx.Err() != nil {
			return fmt.Errorf("server shutting down")
		}
		engine := newServeEngine(svc, logger, metrics)
		svc.SetNotifier(engine)
		engines.add(svc.ProjectID(), engine)
		g.Go(func() error { return engine.Run(gctx) })
		return nil
	}

	reg := project.NewRegistry(cfg.DataDir,
		project.WithMatching(cfg.Fingerprint()),
		project.WithServiceOptions(memory.WithMetrics(metrics), memory.WithLogger(logger)),
		project.WithOpenHook(startEngine),
		project.WithLogger(logger),
	)
	defer func() {
		if err := reg.Close(); err != nil {
			logger.Warn("failed to close project stores", "error", err)
		}
	}()

	ids, err := reg.Projects()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := reg.Get(gctx, id); err != nil {
			logger.Error("failed to open project", "project", id, "error", err)
		}
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewServer(reg, api.WithToken(cfg.Server.Token), api.WithMetrics(metrics), api.WithLogger(logger)).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	g.Go(func() error {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Control.Enabled {
		ctl, err := control.NewServer(cfg.Control.SocketPath, control.NewHandler(reg, engines.lookup), logger)
		if err != nil {
			return err
		}
		if err := ctl.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			err := ctl.Stop()
			ctl.Wait()
			return err
		})
	}

	if cfg.Retention.CleanupEnabled {
		g.Go(func() error {
			runRetention(gctx, reg, logger)
			return nil
		})
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(os.Stderr, "%s nebula %s serving %d projects on %s\n", green("✓"), Version, len(ids), cfg.Server.Addr)
	if cfg.Control.Enabled {
		fmt.Fprintf(os.Stderr, "  Control socket: %s\n", cfg.Control.SocketPath)
	}
	if cfg.Sync.AutoSync {
		fmt.Fprintf(os.Stderr, "  Sync: %s\n", cfg.Sync.CentralEndpoint)
	}

	err = g.Wait()
	logger.Info("server stopped")
	return err
}

// runRetention prunes every open project's activity log on the cleanup
// interval until ctx is done
func runRetention(ctx context.Context, reg *project.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.Retention.CleanupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reg.Each(func(svc *memory.Service) {
				deleted, err := pruneEvents(ctx, svc.Store(), cfg.Retention, now)
				if err != nil {
					logger.Warn("event cleanup failed", "project", svc.ProjectID(), "error", err)
					return
				}
				if deleted > 0 {
					logger.Info("event cleanup complete", "project", svc.ProjectID(), "deleted", deleted)
				}
			})
		}
	}
}
