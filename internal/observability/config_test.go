package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, "info", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, 9464, config.Metrics.PrometheusPort)
	assert.False(t, config.Tracing.Enabled)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, "localhost:4318", config.Tracing.OTLPEndpoint)
	assert.Equal(t, 1.0, config.Tracing.SampleRate)
	assert.Equal(t, "membria", config.Tracing.ServiceName)
}

func TestLoadConfig_NonExistent(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "info", config.Logging.Level)
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
observability:
  logging:
    level: debug
    format: text
  metrics:
    enabled: true
    prometheus_port: 8080
  tracing:
    enabled: true
    exporter: zipkin
    zipkin_endpoint: http://localhost:9411/api/v2/spans
    sample_rate: 0.5
    service_name: membria-staging
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.Logging.Level)
	assert.Equal(t, "text", config.Logging.Format)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, 8080, config.Metrics.PrometheusPort)
	assert.True(t, config.Tracing.Enabled)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
	assert.Equal(t, "http://localhost:9411/api/v2/spans", config.Tracing.ZipkinEndpoint)
	assert.Equal(t, 0.5, config.Tracing.SampleRate)
	assert.Equal(t, "membria-staging", config.Tracing.ServiceName)
}

func TestLoadConfig_PartialFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
observability:
  logging:
    level: warn
  metrics:
    enabled: false
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)

	// Unset keys merge with defaults.
	assert.Equal(t, "warn", config.Logging.Level)
	assert.Equal(t, "json", config.Logging.Format)
	assert.False(t, config.Metrics.Enabled)
	assert.Equal(t, 9464, config.Metrics.PrometheusPort)
}

func TestSaveConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	config := Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			PrometheusPort: 8080,
		},
		Tracing: TracingConfig{
			Enabled:        true,
			Exporter:       "otlp",
			OTLPEndpoint:   "collector:4318",
			SampleRate:     0.8,
			ServiceName:    "membria",
			ServiceVersion: "1.0.0",
		},
	}

	err := SaveConfig(config, configPath)
	require.NoError(t, err)

	loadedConfig, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, config.Logging.Level, loadedConfig.Logging.Level)
	assert.Equal(t, config.Metrics.PrometheusPort, loadedConfig.Metrics.PrometheusPort)
	assert.Equal(t, config.Tracing.OTLPEndpoint, loadedConfig.Tracing.OTLPEndpoint)
	assert.Equal(t, config.Tracing.SampleRate, loadedConfig.Tracing.SampleRate)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("invalid: yaml: content: ["), 0644)
	require.NoError(t, err)

	_, err = LoadConfig(configPath)
	assert.Error(t, err)
}

func TestSaveConfig_CreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	err := SaveConfig(DefaultConfig(), configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)
}
