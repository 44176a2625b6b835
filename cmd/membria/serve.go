package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"membria/internal/config"
	"membria/internal/logging"
	"membria/internal/toolserver"
)

// shutdownGrace bounds how long commands wait for in-flight work on exit.
const shutdownGrace = 5 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stdio tool server with background workers",
		Long: `Serve speaks JSON-RPC 2.0 over stdin/stdout, one request per line.
Alongside the tool surface it runs the TTL sweep, the hourly engram
batch, the graph health monitor and the federation allowlist refresh.
All logs go to stderr; stdout carries only protocol frames.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
}

func runServe(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Stdin EOF ends the server with a nil error; the extra cancel layer
	// brings the workers down with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c, err := buildContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		cleanupCtx, cancelCleanup := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancelCleanup()
		if err := c.Cleanup(cleanupCtx); err != nil {
			c.logger.Warn("cleanup: %v", err)
		}
	}()

	catalog, err := toolserver.NewCatalog(toolserver.Deps{
		Graph:         c.Store,
		GraphHealth:   c.Client,
		Tracker:       c.Tracker,
		Calibration:   c.Calibration,
		Context:       c.Context,
		PlanBuilder:   c.PlanBuilder,
		PlanValidator: c.PlanValidator,
		Skills:        c.Skills,
		Docs:          c.Docs,
		Squads:        c.Squads,
		Queue:         c.Queue,
		Jobs:          c.Jobs,
		Federation:    c.Federation,
		Ring:          c.Ring,

		MemoryTools:      cfg.MemoryToolsEnabled,
		DefaultMaxTokens: cfg.DefaultMaxTokens,
		Logger:           logging.NewComponentLogger("toolserver"),
	})
	if err != nil {
		return err
	}
	srv := toolserver.NewServer(catalog, toolserver.Options{
		Name:       "membria",
		Version:    version,
		Federation: c.Federation,
		Metrics:    c.Metrics,
		Logger:     logging.NewComponentLogger("toolserver"),
	})

	workers := toolserver.WorkerDeps{
		Jobs:       c.Jobs,
		Sweeper:    c.Store,
		Batch:      c.Batch,
		Logger:     logging.NewComponentLogger("workers"),
		SweepEvery: cfg.SweepInterval,
		BatchEvery: cfg.BatchInterval,
	}
	if err := toolserver.RegisterWorkers(workers); err != nil {
		return err
	}
	c.Jobs.Start(ctx)

	c.logger.Info("membria %s serving on stdio (graph=%s namespace=%s)",
		version, cfg.GraphName, cfg.Namespace.Key())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return srv.Run(gctx)
	})
	g.Go(func() error {
		toolserver.RunHealthMonitor(gctx, c.Client, cfg.HealthInterval, logging.NewComponentLogger("health"))
		return nil
	})
	g.Go(func() error {
		c.Federation.Run(gctx)
		return nil
	})
	err = g.Wait()

	select {
	case <-c.Jobs.Done():
	case <-time.After(shutdownGrace):
		c.logger.Warn("scheduler still draining after %s, abandoning wait", shutdownGrace)
	}
	return err
}
