package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"membria/internal/config"
	"membria/internal/logging"
	"membria/internal/webhook"
)

func newWebhookCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Run the GitHub/CI webhook ingest endpoint",
		Long: `Webhook serves HTTP ingest for push, pull_request, workflow_run and
check_run events plus generic ci_event posts. Payloads are verified
against MEMBRIA_WEBHOOK_SECRET; commits without a decision marker are
queued as pending engrams instead of being dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runWebhook(cfg)
		},
	}
}

func runWebhook(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	handler := webhook.NewHandler(c.Tracker, c.Queue, logging.NewComponentLogger("webhook"))
	srv := webhook.NewServer(handler, cfg, logging.NewComponentLogger("webhook"), c.Metrics)

	c.logger.Info("membria %s webhook listening on %s (graph=%s)",
		version, cfg.WebhookAddr, cfg.GraphName)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}
