package audio

import (
	"context"
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder decodes integer PCM WAV files without leaving the process.
// Float and compressed WAV payloads report ErrUnsupportedEncoding so the
// normalizer can hand them to ffmpeg.
type WAVDecoder struct {
	TargetRate int
}

// Decode reads the file at path into a mono waveform at TargetRate. The
// duration is taken from the number of decoded frames at the file's own
// rate, before any resampling.
func (d *WAVDecoder) Decode(ctx context.Context, path string) (*Normalized, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		if dec.Err() != nil {
			return nil, fmt.Errorf("%w: invalid WAV file: %v", ErrDecode, dec.Err())
		}
		return nil, fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}

	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: WAV audio format %d", ErrUnsupportedEncoding, dec.WavAudioFormat)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read WAV samples: %v", ErrDecode, err)
	}

	samples, sampleRate, err := intBufferToMono(buf)
	if err != nil {
		return nil, err
	}

	target := d.TargetRate
	if target <= 0 {
		target = TargetSampleRate
	}

	return &Normalized{
		Samples:    Resample(samples, sampleRate, target),
		SampleRate: target,
		Duration:   float64(len(samples)) / float64(sampleRate),
	}, nil
}

// intBufferToMono scales integer PCM into [-1, 1) and averages channels.
func intBufferToMono(buf *goaudio.IntBuffer) ([]float32, int, error) {
	if buf == nil || buf.Format == nil {
		return nil, 0, fmt.Errorf("%w: WAV file has no format", ErrDecode)
	}

	channels := buf.Format.NumChannels
	sampleRate := buf.Format.SampleRate
	if channels < 1 || sampleRate < 1 {
		return nil, 0, fmt.Errorf("%w: invalid WAV format (%d channels, %d Hz)", ErrDecode, channels, sampleRate)
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth < 8 || bitDepth > 32 {
		return nil, 0, fmt.Errorf("%w: unsupported bit depth %d", ErrUnsupportedEncoding, bitDepth)
	}

	frames := len(buf.Data) / channels
	if frames == 0 {
		return nil, 0, fmt.Errorf("%w: no audio data found", ErrDecode)
	}

	scale := float32(int64(1) << (bitDepth - 1))
	// 8-bit WAV is unsigned
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}

	interleaved := make([]float32, frames*channels)
	for i := range interleaved {
		interleaved[i] = float32(buf.Data[i]-offset) / scale
	}

	return DownmixToMono(interleaved, channels), sampleRate, nil
}

// ErrUnsupportedEncoding marks input that is well formed but that a
// decoder cannot handle itself.
var ErrUnsupportedEncoding = errors.New("unsupported audio encoding")
