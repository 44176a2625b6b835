package observability

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector manages all metrics for the memory engine.
type MetricsCollector struct {
	meter metric.Meter

	// Tool server metrics
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram

	// Graph engine metrics
	graphQueries  metric.Int64Counter
	graphDuration metric.Float64Histogram

	// Webhook ingest metrics
	webhookEvents      metric.Int64Counter
	webhookBadSig      metric.Int64Counter
	outcomeTransitions metric.Int64Counter

	// Background worker metrics
	sweepDeprecated metric.Int64Counter
	batchRuns       metric.Int64Counter
	queueDepth      metric.Int64UpDownCounter

	// Server for Prometheus scraping
	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector.
type MetricsConfig struct {
	Enabled        bool `yaml:"enabled"`
	PrometheusPort int  `yaml:"prometheus_port"`
}

// NewMetricsCollector creates a new metrics collector. With Enabled false it
// returns an inert collector whose record methods are no-ops.
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := provider.Meter("membria")

	toolCalls, err := meter.Int64Counter(
		"membria.tool.calls.total",
		metric.WithDescription("Total number of tool calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_calls counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"membria.tool.duration",
		metric.WithDescription("Tool call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_duration histogram: %w", err)
	}

	graphQueries, err := meter.Int64Counter(
		"membria.graph.queries.total",
		metric.WithDescription("Total number of graph queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph_queries counter: %w", err)
	}

	graphDuration, err := meter.Float64Histogram(
		"membria.graph.query.duration",
		metric.WithDescription("Graph query duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph_duration histogram: %w", err)
	}

	webhookEvents, err := meter.Int64Counter(
		"membria.webhook.events.total",
		metric.WithDescription("Webhook events received by type and result"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook_events counter: %w", err)
	}

	webhookBadSig, err := meter.Int64Counter(
		"membria.webhook.signature_failures.total",
		metric.WithDescription("Webhook deliveries rejected for signature mismatch"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook_bad_sig counter: %w", err)
	}

	outcomeTransitions, err := meter.Int64Counter(
		"membria.outcome.transitions.total",
		metric.WithDescription("Outcome state machine transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create outcome_transitions counter: %w", err)
	}

	sweepDeprecated, err := meter.Int64Counter(
		"membria.sweep.deprecated.total",
		metric.WithDescription("Records soft-deprecated by the TTL sweep"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sweep_deprecated counter: %w", err)
	}

	batchRuns, err := meter.Int64Counter(
		"membria.batch.runs.total",
		metric.WithDescription("Background batch processor runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch_runs counter: %w", err)
	}

	queueDepth, err := meter.Int64UpDownCounter(
		"membria.engram.queue.depth",
		metric.WithDescription("Pending engrams waiting for batch processing"),
		metric.WithUnit("{engram}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue_depth gauge: %w", err)
	}

	collector := &MetricsCollector{
		meter:              meter,
		toolCalls:          toolCalls,
		toolDuration:       toolDuration,
		graphQueries:       graphQueries,
		graphDuration:      graphDuration,
		webhookEvents:      webhookEvents,
		webhookBadSig:      webhookBadSig,
		outcomeTransitions: outcomeTransitions,
		sweepDeprecated:    sweepDeprecated,
		batchRuns:          batchRuns,
		queueDepth:         queueDepth,
	}

	if config.PrometheusPort > 0 {
		if err := collector.StartPrometheusServer(config.PrometheusPort); err != nil {
			return nil, fmt.Errorf("failed to start prometheus server: %w", err)
		}
	}

	return collector, nil
}

// StartPrometheusServer starts the Prometheus metrics server.
func (m *MetricsCollector) StartPrometheusServer(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())

	m.prometheusServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		log.Printf("Prometheus metrics server listening on :%d", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics collector.
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.prometheusServer != nil {
		return m.prometheusServer.Shutdown(ctx)
	}
	return nil
}

// RecordToolCall records one tool dispatch.
func (m *MetricsCollector) RecordToolCall(ctx context.Context, toolName string, status string, duration time.Duration) {
	if m == nil || m.toolCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool_name", toolName),
		attribute.String("status", status),
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("tool_name", toolName)))
}

// RecordGraphQuery records one graph engine round trip.
func (m *MetricsCollector) RecordGraphQuery(ctx context.Context, kind string, status string, duration time.Duration) {
	if m == nil || m.graphQueries == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("status", status),
	}
	m.graphQueries.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.graphDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordWebhookEvent records one delivery by event type and result.
func (m *MetricsCollector) RecordWebhookEvent(ctx context.Context, eventType string, result string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("result", result),
	))
}

// RecordSignatureFailure records a rejected webhook delivery.
func (m *MetricsCollector) RecordSignatureFailure(ctx context.Context) {
	if m == nil || m.webhookBadSig == nil {
		return
	}
	m.webhookBadSig.Add(ctx, 1)
}

// RecordOutcomeTransition records a state machine step.
func (m *MetricsCollector) RecordOutcomeTransition(ctx context.Context, from, to string) {
	if m == nil || m.outcomeTransitions == nil {
		return
	}
	m.outcomeTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordSweep records how many rows a deprecation sweep touched.
func (m *MetricsCollector) RecordSweep(ctx context.Context, label string, deprecated int64) {
	if m == nil || m.sweepDeprecated == nil {
		return
	}
	m.sweepDeprecated.Add(ctx, deprecated, metric.WithAttributes(attribute.String("label", label)))
}

// RecordBatchRun records one batch processor pass.
func (m *MetricsCollector) RecordBatchRun(ctx context.Context, status string) {
	if m == nil || m.batchRuns == nil {
		return
	}
	m.batchRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// AddQueueDepth moves the pending engram gauge by delta.
func (m *MetricsCollector) AddQueueDepth(ctx context.Context, delta int64) {
	if m == nil || m.queueDepth == nil {
		return
	}
	m.queueDepth.Add(ctx, delta)
}
