// Package commands implements the asyncload CLI.
package commands

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arkite/asyncload/internal/logger"
	"github.com/arkite/asyncload/internal/telemetry"
	"github.com/arkite/asyncload/pkg/cache"
	badgercache "github.com/arkite/asyncload/pkg/cache/badger"
	"github.com/arkite/asyncload/pkg/cache/memory"
	ristrettocache "github.com/arkite/asyncload/pkg/cache/ristretto"
	"github.com/arkite/asyncload/pkg/config"
	"github.com/arkite/asyncload/pkg/fetch"
	"github.com/arkite/asyncload/pkg/loader"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"

	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "asyncload",
	Short: "Asynchronous resource loader",
	Long: `asyncload fetches and decodes resources in the background, over http,
ftp, smb and s3, with frame-budgeted delivery and a tri-state result cache.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(schemesCmd)
	rootCmd.AddCommand(versionCmd)
}

// runtime bundles everything a command needs after setup.
type runtime struct {
	cfg    *config.Config
	engine *loader.Engine
	cache  cache.ResultCache
	reg    *prometheus.Registry
}

// setup loads configuration and wires the logger, telemetry, metrics, cache
// backend and engine.
func setup(cmd *cobra.Command) (*runtime, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}); err != nil {
		return nil, nil, err
	}

	ctx := cmd.Context()
	telShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}

	var profShutdown func() error
	if cfg.Telemetry.Profiling.Enabled {
		profShutdown, err = telemetry.InitProfiling(telemetry.ProfilingConfig{
			Enabled:        true,
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: Version,
			Endpoint:       cfg.Telemetry.Profiling.ServerURL,
			ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		})
		if err != nil {
			logger.Warn("profiling init failed", "error", err)
		}
	}

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			logger.Info("metrics listening", "addr", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, mux); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	store, err := buildCache(cfg)
	if err != nil {
		return nil, nil, err
	}

	eng, err := loader.New(loader.Config{
		NumWorkers:        cfg.Loader.NumWorkers,
		MaxUploadsPerTick: cfg.Loader.MaxUploadsPerTick,
		CacheTTL:          cfg.Cache.TTL,
		PendingTTL:        cfg.Cache.PendingTTL,
		TickInterval:      cfg.Loader.TickInterval,
	},
		loader.WithCache(store),
		loader.WithFetchRegistry(buildRegistry(cfg)),
		loader.WithMetrics(loader.NewMetrics(reg)),
	)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		_ = eng.Close()
		_ = store.Close()
		if profShutdown != nil {
			_ = profShutdown()
		}
		if telShutdown != nil {
			_ = telShutdown(ctx)
		}
	}
	return &runtime{cfg: cfg, engine: eng, cache: store, reg: reg}, cleanup, nil
}

func buildCache(cfg *config.Config) (cache.ResultCache, error) {
	switch cfg.Cache.Backend {
	case "ristretto":
		return ristrettocache.NewRistrettoCache(cfg.Cache.MaxCost.Int64())
	case "badger":
		return badgercache.NewBadgerCache(cfg.Cache.Path)
	default:
		return memory.NewMemoryCache(cfg.Cache.MaxEntries), nil
	}
}

func buildRegistry(cfg *config.Config) *fetch.Registry {
	r := fetch.NewRegistry()

	h := fetch.NewHTTPFetcher(fetch.HTTPConfig{
		Timeout:   cfg.Fetch.Timeout,
		UserAgent: cfg.Fetch.HTTP.UserAgent,
		MaxBytes:  cfg.Fetch.HTTP.MaxBytes.Int64(),
	})
	r.Register("http", h)
	r.Register("https", h)

	r.Register("ftp", fetch.NewFTPFetcher(fetch.FTPConfig{
		Timeout:  cfg.Fetch.Timeout,
		User:     cfg.Fetch.FTP.User,
		Password: cfg.Fetch.FTP.Password,
	}))
	r.Register("smb", fetch.NewSMBFetcher(fetch.SMBConfig{
		Timeout:  cfg.Fetch.Timeout,
		User:     cfg.Fetch.SMB.User,
		Password: cfg.Fetch.SMB.Password,
		Domain:   cfg.Fetch.SMB.Domain,
	}))
	r.Register("s3", fetch.NewS3Fetcher(fetch.S3Config{
		Region:          cfg.Fetch.S3.Region,
		Endpoint:        cfg.Fetch.S3.Endpoint,
		AccessKeyID:     cfg.Fetch.S3.AccessKeyID,
		SecretAccessKey: cfg.Fetch.S3.SecretAccessKey,
		UsePathStyle:    cfg.Fetch.S3.UsePathStyle,
	}))
	return r
}
