package telemetry

import (
	"fmt"
	"strings"
	"time"
)

// Config holds configuration options for OpenTelemetry
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	TracingEnabled    bool
	TracingSampleRate float64
	// TracingEndpoint is an OTLP/gRPC host:port; empty disables OTLP trace export
	TracingEndpoint string

	MetricsEnabled  bool
	MetricsInterval time.Duration
	// MetricsEndpoint is an OTLP/gRPC host:port; empty leaves only the Prometheus reader
	MetricsEndpoint string

	// Insecure disables TLS towards the OTLP collector
	Insecure        bool
	ConsoleExporter bool

	ResourceAttributes map[string]string
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version cannot be empty")
	}
	if c.TracingSampleRate < 0.0 || c.TracingSampleRate > 1.0 {
		return fmt.Errorf("tracing sample rate must be between 0.0 and 1.0, got %f", c.TracingSampleRate)
	}
	if c.MetricsEnabled && c.MetricsEndpoint != "" && c.MetricsInterval <= 0 {
		return fmt.Errorf("metrics interval must be positive, got %v", c.MetricsInterval)
	}
	if c.TracingEnabled && c.TracingEndpoint == "" && !c.ConsoleExporter {
		return fmt.Errorf("tracing requires an OTLP endpoint or the console exporter")
	}
	return nil
}

// resourceAttributes returns the service identity plus any extra attributes
func (c *Config) resourceAttributes() map[string]string {
	attrs := map[string]string{
		"service.name":           c.ServiceName,
		"service.version":        c.ServiceVersion,
		"deployment.environment": c.Environment,
	}
	for k, v := range c.ResourceAttributes {
		attrs[k] = v
	}
	return attrs
}

// collectorEndpoint strips a URL scheme, which the gRPC exporters do not accept
func collectorEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	return strings.TrimSuffix(endpoint, "/")
}
