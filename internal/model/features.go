package model

import (
	"fmt"
	"math"
)

const varianceEpsilon = 1e-7

// FeatureProcessor prepares a waveform for the acoustic model
type FeatureProcessor struct {
	SampleRate int
	Normalize  bool
}

// Extract returns the model input for samples recorded at sampleRate. The
// input slice is never modified.
func (p FeatureProcessor) Extract(samples []float32, sampleRate int) ([]float32, error) {
	if sampleRate != p.SampleRate {
		return nil, fmt.Errorf("sampling rate mismatch: model expects %d Hz, got %d Hz", p.SampleRate, sampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to process")
	}

	out := make([]float32, len(samples))
	if !p.Normalize {
		copy(out, samples)
		return out, nil
	}

	var mean float64
	for _, s := range samples {
		mean += float64(s)
	}
	mean /= float64(len(samples))

	var variance float64
	for _, s := range samples {
		d := float64(s) - mean
		variance += d * d
	}
	variance /= float64(len(samples))

	std := math.Sqrt(variance + varianceEpsilon)
	for i, s := range samples {
		out[i] = float32((float64(s) - mean) / std)
	}
	return out, nil
}
