package telemetry

import (
	"fmt"
	"slices"
)

// Config selects how the CLI logs, traces and records metrics.
type Config struct {
	// ServiceName and ServiceVersion identify stackforge in exported spans.
	ServiceName    string
	ServiceVersion string

	// Environment is reported as deployment.environment.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
}

// LoggingConfig selects the log level and encoding. Logs go to stderr so
// command output on stdout stays machine readable.
type LoggingConfig struct {
	Level  string
	Format string
}

// TracingConfig selects the span exporter. Exporter "none" samples spans
// without sending them anywhere.
type TracingConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
	Insecure     bool
}

// MetricsConfig configures the Prometheus registry and its optional endpoint.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress serves Path when set. Empty keeps metrics in-process.
	ListenAddress string
	Path          string

	Namespace string
	Buckets   []float64
}

var (
	logLevels         = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats        = []string{"console", "json"}
	traceSinks        = []string{"otlp", "stdout", "none"}
	remoteCallBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
)

// DefaultConfig returns console logs at info, no tracing, and metrics
// collected but not served.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stackforge",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging:        LoggingConfig{Level: "info", Format: "console"},
		Tracing:        TracingConfig{Exporter: "none", SamplingRate: 1.0, Insecure: true},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "stackforge",
			Buckets:   remoteCallBuckets,
		},
	}
}

// Validate checks the enumerated fields.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("service name is required")
	case c.ServiceVersion == "":
		return fmt.Errorf("service version is required")
	case !slices.Contains(logLevels, c.Logging.Level):
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	case !slices.Contains(logFormats, c.Logging.Format):
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	case c.Tracing.Enabled && !slices.Contains(traceSinks, c.Tracing.Exporter):
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}
	return nil
}
