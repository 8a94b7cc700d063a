package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bolstycjw/htx-assignment/internal/transcription"
)

// ErrNotAvailable is returned when the service does not answer ping
var ErrNotAvailable = errors.New("ASR service is not available")

// Transcriber is the subset of the ASR client the runner needs
type Transcriber interface {
	Ping(ctx context.Context) error
	Transcribe(ctx context.Context, path string) (*transcription.Response, error)
}

// Config contains runner settings
type Config struct {
	InputPath  string
	OutputPath string
	AudioRoot  string
	SaveEvery  int
	Delay      time.Duration
}

// Summary reports what a run did
type Summary struct {
	Total       int `json:"total"`
	Transcribed int `json:"transcribed"`
	Skipped     int `json:"skipped"`
	Missing     int `json:"missing"`
	Failed      int `json:"failed"`
}

// Runner transcribes every row of a manifest
type Runner struct {
	client Transcriber
	config Config
	logger *slog.Logger
}

// NewRunner creates a runner
func NewRunner(logger *slog.Logger, config Config, client Transcriber) *Runner {
	if config.SaveEvery <= 0 {
		config.SaveEvery = 10
	}
	if config.OutputPath == "" {
		config.OutputPath = config.InputPath
	}
	return &Runner{
		client: client,
		config: config,
		logger: logger,
	}
}

// Run processes the manifest. When the output file already exists it is
// loaded instead of the input so finished rows are not sent again.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	if err := r.client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	r.logger.Info("API is running")

	source := r.config.InputPath
	if _, err := os.Stat(r.config.OutputPath); err == nil {
		source = r.config.OutputPath
		r.logger.Info("Resuming from existing output", slog.String("path", source))
	}

	m, err := LoadManifest(source)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Total: len(m.Rows)}
	r.logger.Info("Loaded manifest", slog.String("path", source), slog.Int("entries", summary.Total))

	sinceSave := 0
	for i := range m.Rows {
		if err := ctx.Err(); err != nil {
			r.save(m, summary)
			return summary, err
		}

		name := m.Get(i, FilenameColumn)
		if m.Get(i, TextColumn) != "" {
			summary.Skipped++
			continue
		}

		path := filepath.Join(r.config.AudioRoot, name)
		if _, err := os.Stat(path); err != nil {
			r.logger.Warn("File not found", slog.String("path", path))
			summary.Missing++
			continue
		}

		resp, err := r.client.Transcribe(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				r.save(m, summary)
				return summary, ctx.Err()
			}
			r.logger.Error("Error transcribing file",
				slog.String("filename", name),
				slog.String("error", err.Error()),
			)
			summary.Failed++
		} else if resp.Transcription != "" {
			m.Set(i, TextColumn, resp.Transcription)
			summary.Transcribed++
			sinceSave++
			r.logger.Debug("Transcribed file",
				slog.String("filename", name),
				slog.String("duration", resp.Duration),
			)

			if sinceSave >= r.config.SaveEvery {
				if err := r.save(m, summary); err != nil {
					return summary, err
				}
				sinceSave = 0
			}
		}

		if err := sleep(ctx, r.config.Delay); err != nil {
			r.save(m, summary)
			return summary, err
		}
	}

	if err := r.save(m, summary); err != nil {
		return summary, err
	}

	r.logger.Info("Processing complete",
		slog.Int("transcribed", summary.Transcribed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("missing", summary.Missing),
		slog.Int("failed", summary.Failed),
		slog.Int("total", summary.Total),
		slog.String("output", r.config.OutputPath),
	)
	return summary, nil
}

func (r *Runner) save(m *Manifest, summary *Summary) error {
	if err := m.Save(r.config.OutputPath); err != nil {
		r.logger.Error("Failed to save progress", slog.String("error", err.Error()))
		return err
	}
	r.logger.Info("Progress saved",
		slog.Int("done", summary.Transcribed+summary.Skipped),
		slog.Int("total", summary.Total),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
