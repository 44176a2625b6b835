package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"membria/internal/config"
	"membria/internal/observability"
)

// Stamped by the release build:
//
//	go build -ldflags "-X main.version=v0.4.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "none"
)

// NewRootCommand builds the membria command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "membria",
		Short: "Decision memory engine for coding agents",
		Long: `Membria records the decisions coding agents make, tracks how those
decisions turn out, and serves calibrated context back to agents over a
JSON-RPC stdio interface.

EXAMPLES:
  membria serve              Run the stdio tool server with background workers
  membria webhook            Run the GitHub/CI webhook ingest endpoint
  membria sweep              Run one TTL sweep pass and exit
  membria config show        Print the effective settings
  membria version            Print the build version

Settings come from MEMBRIA_* environment variables, optionally layered
over a membria.yaml file (see --config). Environment variables win.
Observability preferences may also live in ~/.membria/config.yaml,
below both layers; "membria config init" scaffolds that file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Path to a membria.yaml settings file")

	root.AddCommand(newServeCommand())
	root.AddCommand(newWebhookCommand())
	root.AddCommand(newSweepCommand())
	root.AddCommand(newConfigCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("membria %s (commit %s)\n", version, commit)
		},
	}
}

// resolveConfig resolves settings, with the process environment taking
// precedence over the yaml file. An explicit --config path must exist; the
// default search locations may be absent. The global observability file
// sits below both layers.
func resolveConfig(configPath string) (config.Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return config.Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("membria")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.membria")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return config.Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	obsVals, err := observabilityFileValues()
	if err != nil {
		return config.Config{}, err
	}

	env := config.SnapshotProcessEnv()
	return config.FromLookup(func(key string) (string, bool) {
		if val, ok := env[key]; ok && strings.TrimSpace(val) != "" {
			return val, true
		}
		// MEMBRIA_FALKORDB_ADDR maps to the file key falkordb_addr.
		fileKey := strings.ToLower(strings.TrimPrefix(key, "MEMBRIA_"))
		if v.IsSet(fileKey) {
			return v.GetString(fileKey), true
		}
		if val, ok := obsVals[key]; ok {
			return val, true
		}
		return "", false
	})
}

// observabilityFilePath returns ~/.membria/config.yaml, the per-user
// observability preferences file scaffolded by "membria config init".
func observabilityFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".membria", "config.yaml"), nil
}

// observabilityFileValues reads the global observability file, when present,
// into lookup form. A missing file or unresolved home yields no values; a
// present but unreadable file is an error the operator should see.
func observabilityFileValues() (map[string]string, error) {
	path, err := observabilityFilePath()
	if err != nil {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	obs, err := observability.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("read observability config: %w", err)
	}
	return map[string]string{
		"MEMBRIA_LOG_LEVEL":       obs.Logging.Level,
		"MEMBRIA_LOG_FORMAT":      obs.Logging.Format,
		"MEMBRIA_METRICS_ENABLED": strconv.FormatBool(obs.Metrics.Enabled),
		"MEMBRIA_METRICS_PORT":    strconv.Itoa(obs.Metrics.PrometheusPort),
		"MEMBRIA_TRACING_ENABLED": strconv.FormatBool(obs.Tracing.Enabled),
		"MEMBRIA_TRACE_EXPORTER":  obs.Tracing.Exporter,
		"MEMBRIA_OTLP_ENDPOINT":   obs.Tracing.OTLPEndpoint,
	}, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	return resolveConfig(path)
}
