package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"membria/internal/observability"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or scaffold settings files",
	}
	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())
	return cmd
}

// newConfigShowCommand prints the settings the daemon would run with after
// every layer is applied. Secrets are reported as set or unset, never echoed.
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := struct {
				FalkorDBAddr   string               `yaml:"falkordb_addr"`
				FalkorPassword string               `yaml:"falkordb_password"`
				GraphName      string               `yaml:"graph_name"`
				Namespace      string               `yaml:"namespace"`
				DataDir        string               `yaml:"data_dir"`
				WebhookAddr    string               `yaml:"webhook_addr"`
				WebhookSecret  string               `yaml:"webhook_secret"`
				MaxTokens      int                  `yaml:"max_tokens_default"`
				SweepInterval  string               `yaml:"sweep_interval"`
				BatchInterval  string               `yaml:"batch_interval"`
				Observability  observability.Config `yaml:"observability"`
			}{
				FalkorDBAddr:   cfg.FalkorAddr,
				FalkorPassword: setOrUnset(cfg.FalkorPassword),
				GraphName:      cfg.GraphName,
				Namespace:      cfg.Namespace.Key(),
				DataDir:        cfg.DataDir,
				WebhookAddr:    cfg.WebhookAddr,
				WebhookSecret:  setOrUnset(cfg.WebhookSecret),
				MaxTokens:      cfg.DefaultMaxTokens,
				SweepInterval:  cfg.SweepInterval.String(),
				BatchInterval:  cfg.BatchInterval.String(),
				Observability: observability.Config{
					Logging: observability.LoggingConfig{
						Level:  cfg.LogLevel,
						Format: cfg.LogFormat,
					},
					Metrics: observability.MetricsConfig{
						Enabled:        cfg.MetricsEnabled,
						PrometheusPort: cfg.MetricsPort,
					},
					Tracing: observability.TracingConfig{
						Enabled:        cfg.TracingEnabled,
						Exporter:       cfg.TraceExporter,
						OTLPEndpoint:   cfg.OTLPEndpoint,
						SampleRate:     1.0,
						ServiceName:    "membria",
						ServiceVersion: version,
					},
				},
			}
			data, err := yaml.Marshal(out)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}
}

func setOrUnset(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "(set)"
}

// newConfigInitCommand scaffolds ~/.membria/config.yaml with the default
// observability preferences so operators have something to edit.
func newConfigInitCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default observability preferences file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := observabilityFilePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, pass --force to overwrite", path)
			}
			if err := observability.SaveConfig(observability.DefaultConfig(), path); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
