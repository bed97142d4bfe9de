// Package config loads and validates the asyncload configuration from YAML
// files and ASYNCLOAD_* environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/arkite/asyncload/internal/bytesize"
)

// Config is the full application configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Loader    LoaderConfig    `mapstructure:"loader" yaml:"loader"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Fetch     FetchConfig     `mapstructure:"fetch" yaml:"fetch"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}

// TelemetryConfig controls tracing and continuous profiling.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"gte=0,lte=1"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls the pyroscope agent.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	ServerURL    string   `mapstructure:"server_url" yaml:"server_url" validate:"omitempty,url"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types,omitempty"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen" validate:"omitempty,hostname_port"`
}

// LoaderConfig holds the engine tunables.
type LoaderConfig struct {
	NumWorkers        int           `mapstructure:"num_workers" yaml:"num_workers" validate:"gte=2"`
	MaxUploadsPerTick int           `mapstructure:"max_uploads_per_tick" yaml:"max_uploads_per_tick" validate:"gte=0"`
	TickInterval      time.Duration `mapstructure:"tick_interval" yaml:"tick_interval" validate:"gt=0"`
}

// CacheConfig selects and sizes the result cache backend.
type CacheConfig struct {
	// Backend is one of memory, ristretto or badger.
	Backend string `mapstructure:"backend" yaml:"backend" validate:"oneof=memory ristretto badger"`

	// MaxEntries bounds the memory backend. Zero means unbounded.
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries" validate:"gte=0"`

	// MaxCost bounds the ristretto backend. Accepts human-readable sizes
	// like "256Mi".
	MaxCost bytesize.ByteSize `mapstructure:"max_cost" yaml:"max_cost"`

	// Path is the badger backend directory. Empty runs badger in memory.
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gte=0"`
	PendingTTL time.Duration `mapstructure:"pending_ttl" yaml:"pending_ttl" validate:"gte=0"`
}

// FetchConfig holds per-transport settings.
type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`

	HTTP struct {
		UserAgent string            `mapstructure:"user_agent" yaml:"user_agent"`
		MaxBytes  bytesize.ByteSize `mapstructure:"max_bytes" yaml:"max_bytes"`
	} `mapstructure:"http" yaml:"http"`

	FTP struct {
		User     string `mapstructure:"user" yaml:"user,omitempty"`
		Password string `mapstructure:"password" yaml:"password,omitempty"`
	} `mapstructure:"ftp" yaml:"ftp"`

	SMB struct {
		User     string `mapstructure:"user" yaml:"user,omitempty"`
		Password string `mapstructure:"password" yaml:"password,omitempty"`
		Domain   string `mapstructure:"domain" yaml:"domain,omitempty"`
	} `mapstructure:"smb" yaml:"smb"`

	S3 struct {
		Region          string `mapstructure:"region" yaml:"region"`
		Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
		AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
		SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
		UsePathStyle    bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
	} `mapstructure:"s3" yaml:"s3"`
}

// Load reads configuration from path (optional) and the environment, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("ASYNCLOAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WriteDefault writes a fully populated default configuration to path.
// Fails if the file already exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	var cfg Config
	cfg.ApplyDefaults()

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	// 0600: the fetch section can hold credentials.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// decodeHooks converts human-readable sizes and durations while unmarshaling.
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML numbers often arrive as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
