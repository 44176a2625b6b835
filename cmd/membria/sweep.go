package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"membria/internal/config"
	"membria/internal/graph"
	"membria/internal/logging"
	"membria/internal/observability"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one TTL sweep pass and exit",
		Long: `Sweep deactivates every record whose time-to-live has lapsed and
prints the per-label counts. Deployments that do not run the serve
daemon can cron this instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSweep(cmd, cfg)
		},
	}
}

func runSweep(cmd *cobra.Command, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	logging.SetDefault(base)

	client := graph.NewClient(graph.Options{
		Addr:         cfg.FalkorAddr,
		Password:     cfg.FalkorPassword,
		GraphName:    cfg.GraphName,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logging.NewComponentLogger("graph"),
	})
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect graph engine at %s: %w", cfg.FalkorAddr, err)
	}
	defer func() { _ = client.Close() }()

	store := graph.NewStore(client, cfg.Namespace, logging.NewComponentLogger("graph"))
	counts, err := store.SweepAll(ctx, time.Now().Unix())
	if err != nil {
		return err
	}
	cmd.Printf("deactivated %d expired records (decisions=%d outcomes=%d negative_knowledge=%d skills=%d session_contexts=%d)\n",
		counts.Total(), counts.Decisions, counts.Outcomes, counts.NegativeKnowledge, counts.Skills, counts.SessionContexts)
	return nil
}
