// Package config resolves engine settings from the process environment.
// Every knob has a MEMBRIA_ variable and a default that works on a laptop
// with a local FalkorDB; the CLI layer may overlay file-based settings
// before calling FromLookup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"membria/internal/model"
)

// EnvLookup resolves one environment variable. Tests inject maps; production
// uses SnapshotProcessEnv.
type EnvLookup func(key string) (string, bool)

// Config is the resolved runtime configuration.
type Config struct {
	// Graph engine
	FalkorAddr     string
	FalkorPassword string
	GraphName      string
	QueryTimeout   time.Duration

	// Tenancy
	Namespace model.Namespace

	// Local state
	DataDir string

	// Webhook ingest
	WebhookAddr      string
	WebhookSecret    string
	WebhookMaxBody   int64
	WebhookGinDebug  bool
	WebhookCORSHosts []string

	// Context assembly
	DefaultMaxTokens int

	// Tool surface
	MemoryToolsEnabled bool
	PlanConstraints    []string

	// Background workers
	SweepInterval  time.Duration
	BatchInterval  time.Duration
	HealthInterval time.Duration

	// Engram pending queue
	PendingSoftCap int
	PendingHardCap int

	// Document fetching
	DocsFetchTimeout time.Duration
	DocsMaxBytes     int64

	// Federation. The allowlist file itself carries enabled/endpoint so
	// operators can flip it without restarting the daemon.
	FederationAllowlist string

	// Observability
	LogLevel       string
	LogFormat      string
	LogRingSize    int
	MetricsEnabled bool
	MetricsPort    int
	TracingEnabled bool
	TraceExporter  string
	OTLPEndpoint   string
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		FalkorAddr:       "127.0.0.1:6379",
		GraphName:        "membria",
		QueryTimeout:     10 * time.Second,
		Namespace:        model.Namespace{TenantID: "default", TeamID: "default", ProjectID: "default"},
		DataDir:          filepath.Join(home, ".membria"),
		WebhookAddr:      ":8787",
		WebhookMaxBody:   1 << 20, // 1 MiB
		DefaultMaxTokens: 2000,

		MemoryToolsEnabled: true,
		SweepInterval:    300 * time.Second,
		BatchInterval:    time.Hour,
		HealthInterval:   30 * time.Second,
		PendingSoftCap:   1000,
		PendingHardCap:   5000,
		DocsFetchTimeout: 20 * time.Second,
		DocsMaxBytes:     2 << 20, // 2 MiB
		LogLevel:         "info",
		LogFormat:        "json",
		LogRingSize:      512,
		MetricsPort:      9464,
		TraceExporter:    "otlp",
		OTLPEndpoint:     "localhost:4318",
	}
}

// FromEnv resolves configuration from the process environment.
func FromEnv() (Config, error) {
	env := SnapshotProcessEnv()
	return FromLookup(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
}

// FromLookup resolves configuration through the supplied lookup.
func FromLookup(lookup EnvLookup) (Config, error) {
	cfg := Default()

	cfg.FalkorAddr = envStr(lookup, "MEMBRIA_FALKORDB_ADDR", cfg.FalkorAddr)
	cfg.FalkorPassword = envStr(lookup, "MEMBRIA_FALKORDB_PASSWORD", cfg.FalkorPassword)
	cfg.GraphName = envStr(lookup, "MEMBRIA_GRAPH_NAME", cfg.GraphName)
	cfg.QueryTimeout = envDuration(lookup, "MEMBRIA_QUERY_TIMEOUT", cfg.QueryTimeout)

	cfg.Namespace.TenantID = envStr(lookup, "MEMBRIA_TENANT_ID", cfg.Namespace.TenantID)
	cfg.Namespace.TeamID = envStr(lookup, "MEMBRIA_TEAM_ID", cfg.Namespace.TeamID)
	cfg.Namespace.ProjectID = envStr(lookup, "MEMBRIA_PROJECT_ID", cfg.Namespace.ProjectID)

	cfg.DataDir = envStr(lookup, "MEMBRIA_DATA_DIR", cfg.DataDir)

	cfg.WebhookAddr = envStr(lookup, "MEMBRIA_WEBHOOK_ADDR", cfg.WebhookAddr)
	cfg.WebhookSecret = envStr(lookup, "MEMBRIA_WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookMaxBody = envInt64(lookup, "MEMBRIA_WEBHOOK_MAX_BODY", cfg.WebhookMaxBody)
	cfg.WebhookGinDebug = envBool(lookup, "MEMBRIA_WEBHOOK_GIN_DEBUG", cfg.WebhookGinDebug)
	cfg.WebhookCORSHosts = envCSV(lookup, "MEMBRIA_WEBHOOK_CORS_HOSTS", cfg.WebhookCORSHosts)

	cfg.DefaultMaxTokens = envInt(lookup, "MEMBRIA_MAX_TOKENS_DEFAULT", cfg.DefaultMaxTokens)

	cfg.MemoryToolsEnabled = envBool(lookup, "MEMBRIA_MEMORY_TOOLS", cfg.MemoryToolsEnabled)
	cfg.PlanConstraints = envCSV(lookup, "MEMBRIA_PLAN_CONSTRAINTS", cfg.PlanConstraints)

	cfg.SweepInterval = envDuration(lookup, "MEMBRIA_SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.BatchInterval = envDuration(lookup, "MEMBRIA_BATCH_INTERVAL", cfg.BatchInterval)
	cfg.HealthInterval = envDuration(lookup, "MEMBRIA_HEALTH_INTERVAL", cfg.HealthInterval)

	cfg.PendingSoftCap = envInt(lookup, "MEMBRIA_PENDING_SOFT_CAP", cfg.PendingSoftCap)
	cfg.PendingHardCap = envInt(lookup, "MEMBRIA_PENDING_HARD_CAP", cfg.PendingHardCap)

	cfg.DocsFetchTimeout = envDuration(lookup, "MEMBRIA_DOCS_FETCH_TIMEOUT", cfg.DocsFetchTimeout)
	cfg.DocsMaxBytes = envInt64(lookup, "MEMBRIA_DOCS_MAX_BYTES", cfg.DocsMaxBytes)

	cfg.FederationAllowlist = envStr(lookup, "MEMBRIA_FEDERATION_ALLOWLIST", cfg.FederationAllowlist)

	cfg.LogLevel = envStr(lookup, "MEMBRIA_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envStr(lookup, "MEMBRIA_LOG_FORMAT", cfg.LogFormat)
	cfg.LogRingSize = envInt(lookup, "MEMBRIA_LOG_RING_SIZE", cfg.LogRingSize)
	cfg.MetricsEnabled = envBool(lookup, "MEMBRIA_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsPort = envInt(lookup, "MEMBRIA_METRICS_PORT", cfg.MetricsPort)
	cfg.TracingEnabled = envBool(lookup, "MEMBRIA_TRACING_ENABLED", cfg.TracingEnabled)
	cfg.TraceExporter = envStr(lookup, "MEMBRIA_TRACE_EXPORTER", cfg.TraceExporter)
	cfg.OTLPEndpoint = envStr(lookup, "MEMBRIA_OTLP_ENDPOINT", cfg.OTLPEndpoint)

	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.FalkorAddr == "" {
		return fmt.Errorf("config: MEMBRIA_FALKORDB_ADDR must not be empty")
	}
	if c.GraphName == "" {
		return fmt.Errorf("config: MEMBRIA_GRAPH_NAME must not be empty")
	}
	if strings.ContainsAny(c.GraphName, " \t\n") {
		return fmt.Errorf("config: graph name %q contains whitespace", c.GraphName)
	}
	if c.Namespace.IsZero() {
		return fmt.Errorf("config: namespace triple must be set")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("config: query timeout must be positive")
	}
	if c.PendingHardCap < c.PendingSoftCap {
		return fmt.Errorf("config: pending hard cap %d below soft cap %d", c.PendingHardCap, c.PendingSoftCap)
	}
	if c.DefaultMaxTokens < 256 || c.DefaultMaxTokens > 8000 {
		return fmt.Errorf("config: default max tokens %d outside [256, 8000]", c.DefaultMaxTokens)
	}
	return nil
}

// PendingDir returns where unprocessed engram batches are spooled.
func (c Config) PendingDir() string {
	return filepath.Join(c.DataDir, "pending")
}

// CalibrationDir returns where calibration profiles persist.
func (c Config) CalibrationDir() string {
	return filepath.Join(c.DataDir, "calibration")
}

// IndexDir returns the pending-queue index location.
func (c Config) IndexDir() string {
	return filepath.Join(c.DataDir, "index")
}

// FederationAllowlistPath resolves the allowlist file, defaulting into the
// data directory.
func (c Config) FederationAllowlistPath() string {
	if c.FederationAllowlist != "" {
		return c.FederationAllowlist
	}
	return filepath.Join(c.DataDir, "federation.yaml")
}

func envStr(lookup EnvLookup, key, def string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envInt(lookup EnvLookup, key string, def int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func envInt64(lookup EnvLookup, key string, def int64) int64 {
	if v, ok := lookup(key); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(lookup EnvLookup, key string, def bool) bool {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func envDuration(lookup EnvLookup, key string, def time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
		// Bare numbers are seconds.
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func envCSV(lookup EnvLookup, key string, def []string) []string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
		return out
	}
	return def
}
