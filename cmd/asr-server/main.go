package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/bolstycjw/htx-assignment/internal/asr"
	"github.com/bolstycjw/htx-assignment/internal/audio"
	"github.com/bolstycjw/htx-assignment/internal/cache"
	"github.com/bolstycjw/htx-assignment/internal/config"
	"github.com/bolstycjw/htx-assignment/internal/metrics"
	"github.com/bolstycjw/htx-assignment/internal/model"
	"github.com/bolstycjw/htx-assignment/internal/server"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "asr-service"
	serviceVersion    = "1.0.0"
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.HTTP.Address),
		slog.Int("port", cfg.HTTP.Port),
		slog.Int("max_upload_mb", cfg.HTTP.MaxUploadMB),
		slog.String("model_path", cfg.Model.Path),
		slog.String("vocab_path", cfg.Model.VocabPath),
		slog.String("device", cfg.Model.Device),
		slog.Bool("cache_enabled", cfg.Cache.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Load the model. A failure is not fatal: the service stays up and
	// answers /asr with 503.
	device, err := model.ParseDevice(cfg.Model.Device)
	if err != nil {
		logger.Error("Invalid model device", slog.String("error", err.Error()))
		os.Exit(1)
	}
	lifecycle := model.NewLifecycle(logger, model.NewONNXLoader(logger, model.Config{
		ONNX: model.ONNXConfig{
			ModelPath:      cfg.Model.Path,
			RuntimeLibrary: cfg.Model.RuntimeLibrary,
			Device:         device,
			DeviceID:       cfg.Model.DeviceID,
			IntraOpThreads: cfg.Model.IntraOpThreads,
			InputName:      cfg.Model.InputName,
			OutputName:     cfg.Model.OutputName,
		},
		VocabPath:         cfg.Model.VocabPath,
		SampleRate:        cfg.Model.SampleRate,
		NormalizeFeatures: cfg.Model.NormalizeFeatures,
	}))
	if err := lifecycle.Start(ctx); err != nil {
		logger.Warn("Continuing without a model", slog.String("error", err.Error()))
	}
	appMetrics.SetModelReady(lifecycle.State() == model.StateReady)

	// Initialize transcript cache
	transcriptCache := initCache(ctx, cfg.Cache, logger)

	// Initialize audio normalizer
	ffmpeg := audio.NewFFmpegDecoder(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath)
	normalizer := audio.NewNormalizer(logger, audio.NormalizerConfig{
		TempDir:       cfg.Audio.TempDir,
		DecodeTimeout: cfg.Audio.GetDecodeTimeoutDuration(),
	}, audio.DefaultDecoders(ffmpeg), ffmpeg)

	service := asr.NewService(logger, asr.Config{
		CacheTTL: cfg.Cache.GetTTLDuration(),
	}, lifecycle, normalizer, transcriptCache, appMetrics)

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Address:            cfg.HTTP.Address,
		Port:               cfg.HTTP.Port,
		ReadTimeout:        cfg.HTTP.GetReadTimeoutDuration(),
		WriteTimeout:       cfg.HTTP.GetWriteTimeoutDuration(),
		MaxUploadBytes:     cfg.HTTP.GetMaxUploadBytes(),
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
	}, logger, service, lifecycle, appMetrics, registry)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpServer.ListenAndServe()
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Starting graceful shutdown...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop HTTP server first (stop accepting new requests)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		return nil
	})

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", httpServer.Addr()),
	)

	if err := g.Wait(); err != nil {
		logger.Error("Server error", slog.String("error", err.Error()))
	}

	// Release the model once in-flight inference has finished. Handlers
	// can outlive Shutdown's deadline; if they are still running the model
	// is left to the process exit.
	releaseCtx, cancelRelease := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelRelease()
	if err := lifecycle.Stop(releaseCtx); err != nil {
		logger.Error("Error releasing model", slog.String("error", err.Error()))
	}
	if closer, ok := transcriptCache.(*cache.RedisCache); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("Error closing cache", slog.String("error", err.Error()))
		}
	}

	logger.Info("Service stopped")
}

// loadConfig reads the YAML file when present, falls back to defaults
// when the default path is missing, then applies environment overrides.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if path != defaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) cache.Cache {
	if !cfg.Enabled {
		return cache.NopCache{}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rdb, err := cache.NewRedisClient(pingCtx, cfg.Addr)
	if err != nil {
		logger.Warn("Transcript cache disabled", slog.String("error", err.Error()))
		return cache.NopCache{}
	}

	logger.Info("Transcript cache initialized",
		slog.Duration("ttl", cfg.GetTTLDuration()),
	)
	return cache.NewRedisCache(rdb)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
