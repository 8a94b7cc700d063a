package model

import (
	"context"
	"fmt"
	"log/slog"
)

// Config contains everything needed to build a Handle from disk
type Config struct {
	ONNX              ONNXConfig
	VocabPath         string
	SampleRate        int
	NormalizeFeatures bool
}

// NewONNXLoader returns a Loader that reads the vocabulary and opens an
// ONNX session. The device is resolved once, inside the loader.
func NewONNXLoader(logger *slog.Logger, config Config) Loader {
	return func(ctx context.Context) (*Handle, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tokenizer, err := LoadVocab(config.VocabPath)
		if err != nil {
			return nil, err
		}

		m, err := LoadONNX(logger, config.ONNX)
		if err != nil {
			return nil, err
		}

		handle, err := NewHandle(m, FeatureProcessor{
			SampleRate: config.SampleRate,
			Normalize:  config.NormalizeFeatures,
		}, tokenizer, m.Device())
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to assemble model: %w", err)
		}

		return handle, nil
	}
}
