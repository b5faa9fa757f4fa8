package telemetry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the telemetry configuration of the reconf tools.
type Config struct {
	// ServiceName identifies the process in traces.
	ServiceName string `yaml:"service_name" json:"service_name"`

	// ServiceVersion is the version reported in traces.
	ServiceVersion string `yaml:"service_version" json:"service_version"`

	// Environment is free-form (dev, staging, prod).
	Environment string `yaml:"environment" json:"environment"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Events  EventsConfig  `yaml:"events" json:"events"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `yaml:"level" json:"level"`

	// Format is console or json.
	Format string `yaml:"format" json:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output" json:"output"`

	EnableCaller bool `yaml:"enable_caller" json:"enable_caller"`

	// TimeFormat is unix, unixms, unixmicro or rfc3339.
	TimeFormat string `yaml:"time_format" json:"time_format"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter" json:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is in [0, 1].
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate"`

	MaxExportBatchSize int               `yaml:"max_export_batch_size" json:"max_export_batch_size"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" json:"export_timeout"`
	Headers            map[string]string `yaml:"headers" json:"headers"`
	Insecure           bool              `yaml:"insecure" json:"insecure"`
}

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ListenAddress serves Path when non-empty.
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	Path          string `yaml:"path" json:"path"`
	Namespace     string `yaml:"namespace" json:"namespace"`

	// DefaultHistogramBuckets are in seconds.
	DefaultHistogramBuckets []float64 `yaml:"histogram_buckets" json:"histogram_buckets"`
}

// EventsConfig configures the event publisher.
type EventsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	BufferSize   int  `yaml:"buffer_size" json:"buffer_size"`
	MaxBatchSize int  `yaml:"max_batch_size" json:"max_batch_size"`
	EnableAsync  bool `yaml:"async" json:"async"`
}

// DefaultConfig returns the configuration used by the command line tools.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "reconf",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "reconf",
			DefaultHistogramBuckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:      true,
			BufferSize:   1000,
			MaxBatchSize: 100,
			EnableAsync:  false,
		},
	}
}

// ProductionConfig returns JSON logs and sampled OTLP traces.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Events.EnableAsync = true
	return cfg
}

// DevelopmentConfig returns debug logs and stdout traces.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Events.Enabled && c.Events.EnableAsync && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse telemetry config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
