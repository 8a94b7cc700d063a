package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bolstycjw/htx-assignment/internal/apperr"
)

// TargetSampleRate is the rate every waveform is resampled to
const TargetSampleRate = 16000

// AcceptedExtensions lists the upload extensions the service decodes
var AcceptedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg"}

var (
	// ErrDecode marks input that could not be decoded as audio
	ErrDecode = errors.New("audio decode failed")
	// ErrDecoderUnavailable marks a decoder that cannot run on this host
	ErrDecoderUnavailable = errors.New("audio decoder unavailable")
)

const (
	msgBadExtension = "File must be an audio file (mp3, wav, m4a, ogg)"
	msgEmptyUpload  = "Uploaded file is empty"
	msgDecodeFailed = "Could not process audio file"
)

// Upload is the raw payload of one request and its declared filename
type Upload struct {
	Filename string
	Data     []byte
}

// Ext returns the lower-cased extension of the declared filename
func (u Upload) Ext() string {
	return strings.ToLower(filepath.Ext(u.Filename))
}

// Normalized is a mono waveform at SampleRate. Duration is the playback
// length of the original container in seconds.
type Normalized struct {
	Samples    []float32
	SampleRate int
	Duration   float64
}

// Decoder turns an audio file on disk into a Normalized waveform
type Decoder interface {
	Decode(ctx context.Context, path string) (*Normalized, error)
}

// NormalizerConfig contains normalizer settings
type NormalizerConfig struct {
	TempDir       string
	DecodeTimeout time.Duration
}

// Normalizer validates uploads and decodes them through a scoped temp file
type Normalizer struct {
	config   NormalizerConfig
	decoders map[string]Decoder
	fallback Decoder
	logger   *slog.Logger
}

// DefaultDecoders maps .wav to the in-process decoder and every other
// accepted extension to ff.
func DefaultDecoders(ff Decoder) map[string]Decoder {
	decoders := make(map[string]Decoder, len(AcceptedExtensions))
	for _, ext := range AcceptedExtensions {
		decoders[ext] = ff
	}
	decoders[".wav"] = &WAVDecoder{TargetRate: TargetSampleRate}
	return decoders
}

// NewNormalizer creates a normalizer. fallback, when set, receives files
// whose primary decoder reports ErrUnsupportedEncoding.
func NewNormalizer(logger *slog.Logger, config NormalizerConfig, decoders map[string]Decoder, fallback Decoder) *Normalizer {
	if config.DecodeTimeout <= 0 {
		config.DecodeTimeout = time.Minute
	}
	return &Normalizer{
		config:   config,
		decoders: decoders,
		fallback: fallback,
		logger:   logger,
	}
}

// Validate checks the extension and payload size. It performs no I/O.
func (n *Normalizer) Validate(upload Upload) error {
	const op = "Normalizer.Validate"

	if !IsAcceptedExtension(upload.Ext()) {
		return apperr.E(apperr.CodeInvalidArgument, op, msgBadExtension, nil)
	}
	if len(upload.Data) == 0 {
		return apperr.E(apperr.CodeInvalidArgument, op, msgEmptyUpload, nil)
	}
	return nil
}

// IsAcceptedExtension reports whether ext (with dot, any case) is accepted
func IsAcceptedExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, a := range AcceptedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// Normalize validates the upload and decodes it. The temporary file is
// gone when Normalize returns, whatever the outcome.
func (n *Normalizer) Normalize(ctx context.Context, upload Upload) (*Normalized, error) {
	const op = "Normalizer.Normalize"

	if err := n.Validate(upload); err != nil {
		return nil, err
	}

	ext := upload.Ext()
	decoder, ok := n.decoders[ext]
	if !ok {
		return nil, apperr.E(apperr.CodeInternal, op, "no decoder configured", fmt.Errorf("extension %s", ext))
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.DecodeTimeout)
	defer cancel()

	var result *Normalized
	err := WithTempFile(n.config.TempDir, ext, upload.Data, n.logger, func(path string) error {
		out, err := decoder.Decode(ctx, path)
		if errors.Is(err, ErrUnsupportedEncoding) && n.fallback != nil {
			n.logger.Debug("Primary decoder declined, using fallback",
				slog.String("filename", upload.Filename),
				slog.String("reason", err.Error()),
			)
			out, err = n.fallback.Decode(ctx, path)
		}
		if err != nil {
			return scrubPath(err, path, upload.Filename)
		}
		result = out
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}

	if len(result.Samples) == 0 {
		return nil, apperr.E(apperr.CodeInvalidArgument, op, msgDecodeFailed+": no audio data found", nil)
	}

	return result, nil
}

// classify maps decoder failures onto the error taxonomy. Bad input is a
// client error; a missing decoder or a timeout is the server's problem.
func classify(op string, err error) error {
	var ae *apperr.AppError
	if errors.As(err, &ae) {
		return err
	}

	switch {
	case errors.Is(err, ErrDecoderUnavailable):
		return apperr.E(apperr.CodeInternal, op, "audio decoder unavailable", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperr.E(apperr.CodeInternal, op, "audio decoding interrupted", err)
	case errors.Is(err, ErrDecode), errors.Is(err, ErrUnsupportedEncoding):
		return apperr.E(apperr.CodeInvalidArgument, op, msgDecodeFailed+": "+err.Error(), err)
	default:
		return apperr.E(apperr.CodeInternal, op, "failed to stage audio", err)
	}
}

type pathScrubbedError struct {
	msg string
	err error
}

func (e *pathScrubbedError) Error() string { return e.msg }
func (e *pathScrubbedError) Unwrap() error { return e.err }

// scrubPath replaces the temp path in decoder messages with the name the
// client uploaded.
func scrubPath(err error, path, filename string) error {
	msg := err.Error()
	if !strings.Contains(msg, path) {
		return err
	}
	return &pathScrubbedError{msg: strings.ReplaceAll(msg, path, filename), err: err}
}

// WithTempFile writes data to a new temporary file, runs fn with its path
// and removes the file afterwards. Removal failures are logged, never
// returned, so they cannot mask fn's result.
func WithTempFile(dir, suffix string, data []byte, logger *slog.Logger, fn func(path string) error) error {
	f, err := os.CreateTemp(dir, "asr-*"+suffix)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	defer removeTemp(path, logger)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	return fn(path)
}

func removeTemp(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Error removing temporary file",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
