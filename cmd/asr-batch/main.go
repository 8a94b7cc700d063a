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

	"github.com/bolstycjw/htx-assignment/internal/batch"
	"github.com/bolstycjw/htx-assignment/internal/transcription"
)

func main() {
	host := flag.String("host", envOr("ASR_HOST", "http://localhost:8001"), "ASR service base URL")
	input := flag.String("input", "cv-valid-dev.csv", "Input CSV manifest")
	output := flag.String("output", "", "Output CSV (defaults to the input)")
	root := flag.String("root", "", "Directory audio filenames are relative to (defaults to the working directory)")
	delay := flag.Duration("delay", 500*time.Millisecond, "Pause between requests")
	saveEvery := flag.Int("save-every", 10, "Save progress after this many transcriptions")
	retries := flag.Int("retries", 2, "Retries per file on server or network errors")
	timeout := flag.Duration("timeout", 5*time.Minute, "Per-request timeout")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	client, err := transcription.NewClient(transcription.Config{
		BaseURL:       *host,
		Timeout:       *timeout,
		MaxRetries:    *retries,
		MaxConcurrent: 1,
	})
	if err != nil {
		logger.Error("Failed to create client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := batch.NewRunner(logger, batch.Config{
		InputPath:  *input,
		OutputPath: *output,
		AudioRoot:  *root,
		SaveEvery:  *saveEvery,
		Delay:      *delay,
	}, client)

	start := time.Now()
	summary, err := runner.Run(ctx)

	stats := client.GetStats()
	logger.Info("Client statistics",
		slog.Uint64("requests", stats.TotalRequests),
		slog.Uint64("succeeded", stats.SuccessRequests),
		slog.Uint64("failed", stats.FailedRequests),
		slog.Uint64("retries", stats.TotalRetries),
		slog.Duration("avg_response_time", stats.AvgResponseTime),
	)

	if summary != nil {
		logger.Info("Batch finished",
			slog.Int("total", summary.Total),
			slog.Int("transcribed", summary.Transcribed),
			slog.Int("skipped", summary.Skipped),
			slog.Int("missing", summary.Missing),
			slog.Int("failed", summary.Failed),
			slog.Duration("elapsed", time.Since(start)),
		)
	}

	if err != nil {
		if errors.Is(err, batch.ErrNotAvailable) {
			logger.Error("ASR service is not available. Please start the service first.",
				slog.String("host", *host))
		} else {
			logger.Error("Batch failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
