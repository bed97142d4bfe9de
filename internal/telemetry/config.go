package telemetry

// Config contains configuration for OpenTelemetry tracing.
type Config struct {
	// Enabled controls whether distributed tracing is enabled
	Enabled bool

	// ServiceName is the service name reported in trace resource attributes
	ServiceName string

	// ServiceVersion is the service version reported in trace resource attributes
	ServiceVersion string

	// Endpoint is the OTLP collector endpoint (host:port)
	Endpoint string

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64
}
