package audio

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"testing"
)

func TestParseProbeDuration(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		expected    float64
		expectError bool
	}{
		{
			name:     "container duration",
			json:     `{"format":{"duration":"3.240000","format_name":"mp3"},"streams":[{"codec_type":"audio","duration":"3.239"}]}`,
			expected: 3.24,
		},
		{
			name:     "stream duration when container has none",
			json:     `{"format":{"duration":"N/A"},"streams":[{"codec_type":"audio","duration":"1.500000"}]}`,
			expected: 1.5,
		},
		{
			name:        "no audio stream",
			json:        `{"format":{"duration":"2.0"},"streams":[]}`,
			expectError: true,
		},
		{
			name:        "no duration anywhere",
			json:        `{"format":{},"streams":[{"codec_type":"audio"}]}`,
			expectError: true,
		},
		{
			name:        "not json",
			json:        `Invalid data found when processing input`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseProbeDuration([]byte(tt.json))
			if tt.expectError {
				if !errors.Is(err, ErrDecode) {
					t.Errorf("Expected ErrDecode, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if math.Abs(d-tt.expected) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.expected, d)
			}
		})
	}
}

func TestFFmpegDecoderMissingBinary(t *testing.T) {
	dec := NewFFmpegDecoder("/nonexistent/ffmpeg", "/nonexistent/ffprobe")

	_, err := dec.Decode(context.Background(), "whatever.mp3")
	if !errors.Is(err, ErrDecoderUnavailable) {
		t.Errorf("Expected ErrDecoderUnavailable, got %v", err)
	}
}

func TestFFmpegDecoderDecodesWAV(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skipf("ffmpeg not installed: %v", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skipf("ffprobe not installed: %v", err)
	}

	data := encodeWAV(t, sineWave(8000, 2.0, 440), 8000, 1)
	path := writeFixture(t, "clip.wav", data)

	out, err := NewFFmpegDecoder("", "").Decode(context.Background(), path)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if math.Abs(out.Duration-2.0) > 0.01 {
		t.Errorf("Expected duration 2.0, got %f", out.Duration)
	}
	if out.SampleRate != TargetSampleRate {
		t.Errorf("Expected %d Hz, got %d", TargetSampleRate, out.SampleRate)
	}
	// ffmpeg's resampler may pad a few samples
	if n := len(out.Samples); n < 31900 || n > 32100 {
		t.Errorf("Expected about 32000 samples, got %d", n)
	}
}

func TestFFmpegDecoderRejectsGarbage(t *testing.T) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skipf("ffprobe not installed: %v", err)
	}

	path := writeFixture(t, "noise.mp3", []byte("definitely not an mp3 stream"))

	_, err := NewFFmpegDecoder("", "").Decode(context.Background(), path)
	if !errors.Is(err, ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}
}
