package model

import (
	"context"
	"fmt"
)

// Handle is a loaded model ready for inference. It is immutable after
// construction and safe for concurrent use.
type Handle struct {
	model     AcousticModel
	features  FeatureProcessor
	tokenizer *Tokenizer
	device    Device
}

// NewHandle bundles a model with its feature processor and tokenizer
func NewHandle(model AcousticModel, features FeatureProcessor, tokenizer *Tokenizer, device Device) (*Handle, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}
	if tokenizer == nil {
		return nil, fmt.Errorf("tokenizer cannot be nil")
	}
	if features.SampleRate <= 0 {
		return nil, fmt.Errorf("feature sample rate must be positive, got %d", features.SampleRate)
	}
	return &Handle{
		model:     model,
		features:  features,
		tokenizer: tokenizer,
		device:    device,
	}, nil
}

// Device returns the device inference runs on
func (h *Handle) Device() Device {
	return h.device
}

// SampleRate returns the rate the model expects its input at
func (h *Handle) SampleRate() int {
	return h.features.SampleRate
}

// Transcribe converts a mono waveform into text using greedy CTC decoding
func (h *Handle) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	input, err := h.features.Extract(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("feature extraction failed: %w", err)
	}

	logits, err := h.model.Forward(ctx, input)
	if err != nil {
		return "", err
	}

	if logits.Classes != h.tokenizer.Size() {
		return "", fmt.Errorf("model emits %d classes, vocabulary has %d", logits.Classes, h.tokenizer.Size())
	}

	return h.tokenizer.Decode(logits.ArgMax()), nil
}

// Close releases the underlying model
func (h *Handle) Close() error {
	return h.model.Close()
}
