package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"membria/internal/calibration"
	"membria/internal/config"
	"membria/internal/contextmgr"
	"membria/internal/docs"
	"membria/internal/engram"
	"membria/internal/federation"
	"membria/internal/graph"
	"membria/internal/httpclient"
	"membria/internal/logging"
	"membria/internal/model"
	"membria/internal/observability"
	"membria/internal/outcome"
	"membria/internal/planner"
	"membria/internal/scheduler"
	"membria/internal/skills"
	"membria/internal/squad"
)

// Container holds every long-lived component, built once per process.
type Container struct {
	Config config.Config

	Ring    *observability.RingWriter
	Metrics *observability.MetricsCollector
	Tracer  *observability.TracerProvider

	Client *graph.Client
	Store  *graph.Store

	Calibration   *calibration.Store
	Queue         *engram.Queue
	Batch         *engram.Processor
	Tracker       *outcome.Tracker
	Context       *contextmgr.Manager
	PlanBuilder   *planner.Builder
	PlanValidator *planner.Validator
	Skills        *skills.Generator
	Docs          *docs.Service
	Squads        *squad.Service
	Federation    *federation.Client
	Jobs          *scheduler.Scheduler

	logger logging.Logger
}

// buildContainer wires the engine. An unreachable graph engine or unusable
// local state is fatal; a missing federation allowlist is not.
func buildContainer(ctx context.Context, cfg config.Config) (*Container, error) {
	// Logs go to stderr so serve mode keeps stdout clean for JSON-RPC. The
	// ring tees the most recent lines for the logs_tail tool.
	ring := observability.NewRingWriter(cfg.LogRingSize)
	base := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: io.MultiWriter(os.Stderr, ring),
	})
	logging.SetDefault(base)

	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{
		Enabled:        cfg.MetricsEnabled,
		PrometheusPort: cfg.MetricsPort,
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		ServiceName:    "membria",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	client := graph.NewClient(graph.Options{
		Addr:         cfg.FalkorAddr,
		Password:     cfg.FalkorPassword,
		GraphName:    cfg.GraphName,
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logging.NewComponentLogger("graph"),
		Metrics:      metrics,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect graph engine at %s: %w", cfg.FalkorAddr, err)
	}

	store := graph.NewStore(client, cfg.Namespace, logging.NewComponentLogger("graph"))
	if err := store.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("apply schema migrations: %w", err)
	}

	queue, err := engram.Open(cfg.DataDir, logging.NewComponentLogger("engram"))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	queue.SetCaps(cfg.PendingSoftCap, cfg.PendingHardCap)

	cal := calibration.NewStore(cfg.CalibrationDir(), cfg.Namespace, logging.NewComponentLogger("calibration"))

	fetcher := docs.NewFetcher(httpclient.URLPolicy{}, logging.NewComponentLogger("docs"))
	fetcher.Tune(cfg.DocsFetchTimeout, cfg.DocsMaxBytes)

	c := &Container{
		Config:  cfg,
		Ring:    ring,
		Metrics: metrics,
		Tracer:  tracer,
		Client:  client,
		Store:   store,

		Calibration: cal,
		Queue:       queue,
		// No trace extractor ships yet, so scheduled batch runs log and skip.
		Batch:         engram.NewProcessor(queue, store, nil, logging.NewComponentLogger("engram")),
		Tracker:       outcome.NewTracker(store, cal, logging.NewComponentLogger("outcome")),
		Context:       contextmgr.NewManager(store, cal, logging.NewComponentLogger("context")),
		PlanBuilder:   planner.NewBuilder(store, cal, cfg.PlanConstraints, logging.NewComponentLogger("planner")),
		PlanValidator: planner.NewValidator(store, cal, logging.NewComponentLogger("planner")),
		Skills:        skills.NewGenerator(store, cal, logging.NewComponentLogger("skills")),
		Docs:          docs.NewService(store, fetcher, logging.NewComponentLogger("docs")),
		Squads:        squad.NewService(store, logging.NewComponentLogger("squad")),
		Federation:    federation.NewClient(cfg.FederationAllowlistPath(), logging.NewComponentLogger("federation")),
		Jobs:          scheduler.New(logging.NewComponentLogger("scheduler")),
		logger:        logging.NewComponentLogger("daemon"),
	}

	if cfg.MetricsEnabled {
		c.Context.SetMetrics(observability.NewContextMetrics())
	}

	ws := model.Workspace{Name: cfg.Namespace.TeamID}
	proj := model.Project{Name: cfg.Namespace.ProjectID}
	if _, _, err := c.Squads.EnsureNamespace(ctx, ws, proj); err != nil {
		c.logger.Warn("ensure namespace: %v", err)
	}
	if err := c.Federation.Refresh(ctx); err != nil {
		c.logger.Warn("federation refresh: %v", err)
	}
	return c, nil
}

// Cleanup releases everything the container holds. Safe on a partially
// built container.
func (c *Container) Cleanup(ctx context.Context) error {
	var errs []error
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engram queue: %w", err))
		}
	}
	if c.Client != nil {
		if err := c.Client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close graph client: %w", err))
		}
	}
	if c.Metrics != nil {
		if err := c.Metrics.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown metrics: %w", err))
		}
	}
	if c.Tracer != nil {
		if err := c.Tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}
