package config

import (
	"time"

	"github.com/arkite/asyncload/internal/bytesize"
)

// ApplyDefaults fills every zero-valued field with its default. Explicit
// settings are left alone.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "asyncload"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
	if c.Telemetry.SampleRate == 0 {
		c.Telemetry.SampleRate = 1.0
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "localhost:9090"
	}

	if c.Loader.NumWorkers == 0 {
		c.Loader.NumWorkers = 2
	}
	if c.Loader.TickInterval == 0 {
		c.Loader.TickInterval = 50 * time.Millisecond
	}
	if c.Loader.MaxUploadsPerTick == 0 {
		c.Loader.MaxUploadsPerTick = 2
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 500
	}
	if c.Cache.MaxCost == 0 {
		c.Cache.MaxCost = 256 * bytesize.MiB
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Minute
	}
	if c.Cache.PendingTTL == 0 {
		c.Cache.PendingTTL = time.Minute
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.HTTP.UserAgent == "" {
		c.Fetch.HTTP.UserAgent = "asyncload/1.0"
	}
	if c.Fetch.S3.Region == "" {
		c.Fetch.S3.Region = "us-east-1"
	}
}
