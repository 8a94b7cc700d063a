package asr

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/bolstycjw/htx-assignment/internal/apperr"
	"github.com/bolstycjw/htx-assignment/internal/audio"
	"github.com/bolstycjw/htx-assignment/internal/cache"
	"github.com/bolstycjw/htx-assignment/internal/metrics"
	"github.com/bolstycjw/htx-assignment/internal/model"
)

const (
	msgModelNotLoaded = "Model is not loaded"
	msgInternal       = "An error occurred during transcription"
)

// Outcome labels recorded for every request
const (
	OutcomeSuccess     = "success"
	OutcomeCacheHit    = "cache_hit"
	OutcomeClientError = "client_error"
	OutcomeUnavailable = "unavailable"
	OutcomeInternal    = "internal_error"
)

// Result is the success payload of a transcription
type Result struct {
	Transcription string `json:"transcription"`
	Duration      string `json:"duration"`
}

// ModelProvider hands out the loaded model, if there is one
type ModelProvider interface {
	Acquire() (handle *model.Handle, release func(), ok bool)
}

// Normalizer validates and decodes uploads
type Normalizer interface {
	Validate(upload audio.Upload) error
	Normalize(ctx context.Context, upload audio.Upload) (*audio.Normalized, error)
}

// Config contains service settings
type Config struct {
	CacheTTL time.Duration
}

// Service turns uploads into transcripts
type Service struct {
	models     ModelProvider
	normalizer Normalizer
	cache      cache.Cache
	metrics    *metrics.Metrics
	config     Config
	logger     *slog.Logger
}

// NewService creates a transcription service. cache and m may be nil.
func NewService(logger *slog.Logger, config Config, models ModelProvider, normalizer Normalizer, c cache.Cache, m *metrics.Metrics) *Service {
	if c == nil {
		c = cache.NopCache{}
	}
	return &Service{
		models:     models,
		normalizer: normalizer,
		cache:      c,
		metrics:    m,
		config:     config,
		logger:     logger,
	}
}

// FormatDuration renders seconds with one decimal. The exact binary value
// is rounded, ties to even, so 3.25 gives "3.2" and 2.65 (stored just
// below) gives "2.6".
func FormatDuration(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 1, 64)
}

// Ready reports whether a model is loaded
func (s *Service) Ready() bool {
	_, release, ok := s.models.Acquire()
	release()
	return ok
}

// Transcribe runs one upload through the pipeline
func (s *Service) Transcribe(ctx context.Context, upload audio.Upload) (*Result, error) {
	start := time.Now()

	result, outcome, err := s.transcribe(ctx, upload)

	if s.metrics != nil {
		s.metrics.RecordTranscription(outcome, time.Since(start).Seconds())
	}
	return result, err
}

func (s *Service) transcribe(ctx context.Context, upload audio.Upload) (*Result, string, error) {
	const op = "Service.Transcribe"

	handle, release, ok := s.models.Acquire()
	defer release()
	if !ok {
		return nil, OutcomeUnavailable, apperr.E(apperr.CodeUnavailable, op, msgModelNotLoaded, nil)
	}

	if err := s.normalizer.Validate(upload); err != nil {
		return nil, OutcomeClientError, err
	}

	key := cache.Key(upload.Ext(), upload.Data)
	if cached, hit := s.lookup(ctx, key); hit {
		return cached, OutcomeCacheHit, nil
	}

	decodeStart := time.Now()
	normalized, err := s.normalizer.Normalize(ctx, upload)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeInvalidArgument) {
			return nil, OutcomeClientError, err
		}
		return nil, OutcomeInternal, apperr.E(apperr.CodeInternal, op, msgInternal, err)
	}
	if s.metrics != nil {
		s.metrics.RecordDecode(time.Since(decodeStart).Seconds())
		s.metrics.RecordAudio(normalized.Duration, len(upload.Data))
	}

	inferStart := time.Now()
	text, err := s.infer(ctx, handle, normalized)
	if err != nil {
		return nil, OutcomeInternal, apperr.E(apperr.CodeInternal, op, msgInternal, err)
	}
	if s.metrics != nil {
		s.metrics.RecordInference(time.Since(inferStart).Seconds())
	}

	result := &Result{
		Transcription: text,
		Duration:      FormatDuration(normalized.Duration),
	}
	s.store(ctx, key, result)

	return result, OutcomeSuccess, nil
}

// infer runs the model and converts a panic into an error
func (s *Service) infer(ctx context.Context, handle *model.Handle, normalized *audio.Normalized) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic during inference",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("inference panicked: %v", r)
		}
	}()

	return handle.Transcribe(ctx, normalized.Samples, normalized.SampleRate)
}

func (s *Service) lookup(ctx context.Context, key string) (*Result, bool) {
	var cached Result
	hit, err := s.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("Transcript cache lookup failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordCacheError()
		}
		return nil, false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(hit)
	}
	if !hit {
		return nil, false
	}
	return &cached, true
}

func (s *Service) store(ctx context.Context, key string, result *Result) {
	if err := s.cache.SetJSON(ctx, key, result, s.config.CacheTTL); err != nil {
		s.logger.Warn("Transcript cache store failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.RecordCacheError()
		}
	}
}
