package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

const maxStderrPreview = 300

// FFmpegDecoder decodes any container ffmpeg understands. ffprobe reports
// the container duration, ffmpeg produces mono float32 PCM at TargetRate.
type FFmpegDecoder struct {
	FFmpegPath  string
	FFprobePath string
	TargetRate  int
}

// NewFFmpegDecoder creates a decoder using the given binaries
func NewFFmpegDecoder(ffmpegPath, ffprobePath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegDecoder{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		TargetRate:  TargetSampleRate,
	}
}

// probeOutput is the subset of `ffprobe -print_format json` we read
type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
		Duration   string `json:"duration"`
	} `json:"streams"`
}

// Decode probes and decodes the file at path
func (d *FFmpegDecoder) Decode(ctx context.Context, path string) (*Normalized, error) {
	duration, err := d.probeDuration(ctx, path)
	if err != nil {
		return nil, err
	}

	samples, err := d.decodePCM(ctx, path)
	if err != nil {
		return nil, err
	}

	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no audio samples decoded", ErrDecode)
	}

	return &Normalized{
		Samples:    samples,
		SampleRate: d.targetRate(),
		Duration:   duration,
	}, nil
}

func (d *FFmpegDecoder) targetRate() int {
	if d.TargetRate <= 0 {
		return TargetSampleRate
	}
	return d.TargetRate
}

func (d *FFmpegDecoder) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, d.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-select_streams", "a",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, d.execError(ctx, "ffprobe", err, stderr.String())
	}

	return ParseProbeDuration(stdout.Bytes())
}

// ParseProbeDuration extracts the playback duration in seconds from
// ffprobe JSON output. The container duration wins over the stream one.
func ParseProbeDuration(data []byte) (float64, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("%w: unreadable probe output: %v", ErrDecode, err)
	}

	hasAudio := false
	for _, s := range probe.Streams {
		if s.CodecType == "audio" {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return 0, fmt.Errorf("%w: no audio stream found", ErrDecode)
	}

	candidates := []string{probe.Format.Duration}
	for _, s := range probe.Streams {
		candidates = append(candidates, s.Duration)
	}

	for _, c := range candidates {
		if c == "" || c == "N/A" {
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err == nil && v > 0 && !math.IsInf(v, 0) {
			return v, nil
		}
	}

	return 0, fmt.Errorf("%w: duration unavailable", ErrDecode)
}

func (d *FFmpegDecoder) decodePCM(ctx context.Context, path string) ([]float32, error) {
	cmd := exec.CommandContext(ctx, d.FFmpegPath,
		"-nostdin",
		"-loglevel", "error",
		"-i", path,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(d.targetRate()),
		"-f", "f32le",
		"pipe:1",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, d.execError(ctx, "ffmpeg", err, stderr.String())
	}

	return float32LE(stdout.Bytes()), nil
}

// execError separates a missing binary or a cancelled context (server
// side) from a non-zero exit (bad input).
func (d *FFmpegDecoder) execError(ctx context.Context, tool string, err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) {
		return fmt.Errorf("%w: %s: %v", ErrDecoderUnavailable, tool, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", tool, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(stderr)
		if len(msg) > maxStderrPreview {
			msg = msg[:maxStderrPreview] + "…"
		}
		if msg == "" {
			msg = exitErr.Error()
		}
		return fmt.Errorf("%w: %s", ErrDecode, msg)
	}

	return fmt.Errorf("%w: %s: %v", ErrDecoderUnavailable, tool, err)
}

func float32LE(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
