package observability

import (
	"maps"
	"strings"
	"time"
)

const (
	// EndpointStdout writes telemetry to stdout instead of an OTLP collector.
	EndpointStdout = "stdout"

	// ProtocolHTTP specifies OTLP over HTTP/protobuf.
	ProtocolHTTP = "http"

	// ProtocolGRPC specifies OTLP over gRPC.
	ProtocolGRPC = "grpc"

	// EnvironmentDevelopment is the default deployment environment.
	EnvironmentDevelopment = "development"
)

// Default export settings.
const (
	DefaultSampleRate      = 1.0
	DefaultMetricsInterval = 30 * time.Second
	DefaultBatchTimeout    = 5 * time.Second
	DefaultExportTimeout   = 30 * time.Second
	devBatchTimeout        = 500 * time.Millisecond
	devExportTimeout       = 10 * time.Second
)

// BoolPtr returns a pointer to v.
func BoolPtr(v bool) *bool {
	return &v
}

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 {
	return &v
}

// Config controls span and metric export for the request transport.
type Config struct {
	// Enabled turns telemetry export on. When false the global providers stay no-ops.
	Enabled     bool          `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Service     ServiceConfig `koanf:"service" json:"service" yaml:"service"`
	Environment string        `koanf:"environment" json:"environment" yaml:"environment"`
	Trace       TraceConfig   `koanf:"trace" json:"trace" yaml:"trace"`
	Metrics     MetricsConfig `koanf:"metrics" json:"metrics" yaml:"metrics"`
}

// ServiceConfig identifies the process in exported telemetry.
type ServiceConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name"`
	Version string `koanf:"version" json:"version" yaml:"version"`
}

// TraceConfig configures span export.
type TraceConfig struct {
	// Enabled defaults to true when observability is enabled.
	Enabled *bool `koanf:"enabled" json:"enabled" yaml:"enabled"`
	// Endpoint is "stdout" or an OTLP endpoint. HTTP endpoints carry a scheme, gRPC endpoints are host:port.
	Endpoint string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol string            `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure bool              `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Headers  map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	// SampleRate is the fraction of root spans recorded, 0.0 to 1.0.
	SampleRate    *float64      `koanf:"samplerate" json:"samplerate" yaml:"samplerate"`
	BatchTimeout  time.Duration `koanf:"batchtimeout" json:"batchtimeout" yaml:"batchtimeout"`
	ExportTimeout time.Duration `koanf:"exporttimeout" json:"exporttimeout" yaml:"exporttimeout"`
}

// MetricsConfig configures metric export. Unset protocol, insecure and
// headers are inherited from the trace exporter.
type MetricsConfig struct {
	Enabled       *bool             `koanf:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint      string            `koanf:"endpoint" json:"endpoint" yaml:"endpoint"`
	Protocol      string            `koanf:"protocol" json:"protocol" yaml:"protocol"`
	Insecure      *bool             `koanf:"insecure" json:"insecure" yaml:"insecure"`
	Headers       map[string]string `koanf:"headers" json:"headers" yaml:"headers"`
	Interval      time.Duration     `koanf:"interval" json:"interval" yaml:"interval"`
	ExportTimeout time.Duration     `koanf:"exporttimeout" json:"exporttimeout" yaml:"exporttimeout"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Service.Version == "" {
		c.Service.Version = "unknown"
	}
	if c.Environment == "" {
		c.Environment = EnvironmentDevelopment
	}
	c.applyTraceDefaults()
	c.applyMetricsDefaults()
}

func (c *Config) development(endpoint string) bool {
	return c.Environment == EnvironmentDevelopment || endpoint == EndpointStdout
}

func (c *Config) applyTraceDefaults() {
	if c.Trace.Endpoint == "" {
		c.Trace.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Trace.Enabled == nil {
		c.Trace.Enabled = BoolPtr(true)
	}
	if c.Trace.Protocol == "" {
		c.Trace.Protocol = ProtocolHTTP
	}
	if c.Trace.SampleRate == nil {
		c.Trace.SampleRate = Float64Ptr(DefaultSampleRate)
	}
	if c.Trace.BatchTimeout == 0 {
		c.Trace.BatchTimeout = DefaultBatchTimeout
		if c.development(c.Trace.Endpoint) {
			c.Trace.BatchTimeout = devBatchTimeout
		}
	}
	if c.Trace.ExportTimeout == 0 {
		c.Trace.ExportTimeout = DefaultExportTimeout
		if c.development(c.Trace.Endpoint) {
			c.Trace.ExportTimeout = devExportTimeout
		}
	}
}

func (c *Config) applyMetricsDefaults() {
	if c.Metrics.Endpoint == "" {
		c.Metrics.Endpoint = EndpointStdout
	}
	if c.Enabled && c.Metrics.Enabled == nil {
		c.Metrics.Enabled = BoolPtr(true)
	}
	if c.Metrics.Protocol == "" {
		c.Metrics.Protocol = c.Trace.Protocol
	}
	if c.Metrics.Insecure == nil {
		c.Metrics.Insecure = BoolPtr(c.Trace.Insecure)
	}
	if c.Metrics.Headers == nil && c.Trace.Headers != nil {
		c.Metrics.Headers = maps.Clone(c.Trace.Headers)
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = DefaultMetricsInterval
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = DefaultExportTimeout
		if c.development(c.Metrics.Endpoint) {
			c.Metrics.ExportTimeout = devExportTimeout
		}
	}
}

// TraceEnabled reports whether spans are exported.
func (c *Config) TraceEnabled() bool {
	return c.Enabled && c.Trace.Enabled != nil && *c.Trace.Enabled
}

// MetricsEnabled reports whether metrics are exported.
func (c *Config) MetricsEnabled() bool {
	return c.Enabled && c.Metrics.Enabled != nil && *c.Metrics.Enabled
}

// Validate checks the configuration. A disabled configuration is always valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if !c.Enabled {
		return nil
	}
	if c.Service.Name == "" {
		return ErrMissingServiceName
	}

	if c.Trace.SampleRate != nil && (*c.Trace.SampleRate < 0 || *c.Trace.SampleRate > 1) {
		return ErrInvalidSampleRate
	}
	if err := validateExporter(c.Trace.Endpoint, c.Trace.Protocol, ProtocolHTTP); err != nil {
		return err
	}
	if c.Metrics.Enabled != nil && *c.Metrics.Enabled {
		return validateExporter(c.Metrics.Endpoint, c.Metrics.Protocol, c.Trace.Protocol)
	}
	return nil
}

// validateExporter checks the protocol and that the endpoint format matches it.
func validateExporter(endpoint, protocol, fallback string) error {
	if endpoint == EndpointStdout || endpoint == "" {
		return nil
	}
	if protocol == "" {
		protocol = fallback
	}
	if protocol == "" {
		protocol = ProtocolHTTP
	}

	hasScheme := strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
	switch protocol {
	case ProtocolHTTP:
		if !hasScheme {
			return ErrInvalidEndpointFormat
		}
	case ProtocolGRPC:
		if hasScheme {
			return ErrInvalidEndpointFormat
		}
	default:
		return ErrInvalidProtocol
	}
	return nil
}
