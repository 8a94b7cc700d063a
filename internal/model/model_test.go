package model

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// wav2vec2 style vocabulary: <pad>=0 <s>=1 </s>=2 <unk>=3 |=4 then letters
var testVocab = map[string]int{
	"<pad>": 0, "<s>": 1, "</s>": 2, "<unk>": 3, "|": 4,
	"H": 5, "E": 6, "L": 7, "O": 8, "W": 9, "R": 10, "D": 11,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubModel emits one-hot logits for a fixed id sequence
type stubModel struct {
	ids     []int
	classes int
	err     error

	mu     sync.Mutex
	calls  int
	closed int
	inputs [][]float32
}

func (s *stubModel) Forward(ctx context.Context, input []float32) (Logits, error) {
	s.mu.Lock()
	s.calls++
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()

	if s.err != nil {
		return Logits{}, s.err
	}
	return oneHot(s.ids, s.classes), nil
}

func (s *stubModel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func oneHot(ids []int, classes int) Logits {
	data := make([]float32, len(ids)*classes)
	for f, id := range ids {
		for c := 0; c < classes; c++ {
			data[f*classes+c] = -5
		}
		data[f*classes+id] = 5
	}
	return Logits{Frames: len(ids), Classes: classes, Data: data}
}

func newTestTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer(testVocab)
	if err != nil {
		t.Fatalf("NewTokenizer failed: %v", err)
	}
	return tok
}

func TestLogitsArgMax(t *testing.T) {
	l := Logits{
		Frames:  3,
		Classes: 3,
		Data: []float32{
			0.1, 0.7, 0.2,
			0.9, 0.0, 0.1,
			0.3, 0.3, 0.3,
		},
	}

	got := l.ArgMax()
	expected := []int{1, 0, 0}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Frame %d: expected %d, got %d", i, expected[i], got[i])
		}
	}
}

func TestLogitsValidate(t *testing.T) {
	if err := (Logits{Frames: 2, Classes: 3, Data: make([]float32, 5)}).Validate(); err == nil {
		t.Error("Expected error for short data")
	}
	if err := (Logits{Frames: 2, Classes: 0}).Validate(); err == nil {
		t.Error("Expected error for zero classes")
	}
	if err := (Logits{Frames: 2, Classes: 3, Data: make([]float32, 6)}).Validate(); err != nil {
		t.Errorf("Expected valid logits, got %v", err)
	}
}

func TestTokenizerDecode(t *testing.T) {
	tok := newTestTokenizer(t)

	tests := []struct {
		name     string
		ids      []int
		expected string
	}{
		{name: "merges repeats", ids: []int{5, 5, 6, 6, 6, 7}, expected: "HEL"},
		{name: "blank separates equal letters", ids: []int{5, 6, 7, 0, 7, 8}, expected: "HELLO"},
		{name: "delimiter becomes space", ids: []int{5, 8, 4, 4, 9, 8}, expected: "HO WO"},
		{name: "special tokens dropped", ids: []int{1, 5, 3, 6, 2}, expected: "HE"},
		{name: "leading and trailing delimiters trimmed", ids: []int{4, 0, 5, 4, 0, 4, 6, 4}, expected: "H E"},
		{name: "only blanks", ids: []int{0, 0, 0}, expected: ""},
		{name: "empty path", ids: nil, expected: ""},
		{name: "out of range ids ignored", ids: []int{5, 99, 6}, expected: "HE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tok.Decode(tt.ids); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNewTokenizerValidation(t *testing.T) {
	tests := []struct {
		name  string
		vocab map[string]int
	}{
		{name: "empty", vocab: map[string]int{}},
		{name: "no pad token", vocab: map[string]int{"A": 0, "B": 1}},
		{name: "duplicate ids", vocab: map[string]int{"<pad>": 0, "A": 1, "B": 1}},
		{name: "negative id", vocab: map[string]int{"<pad>": 0, "A": -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTokenizer(tt.vocab); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestLoadVocab(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "vocab.json")
	if err := os.WriteFile(path, []byte(`{"<pad>":0,"<s>":1,"</s>":2,"<unk>":3,"|":4,"A":5}`), 0644); err != nil {
		t.Fatalf("Failed to write vocab: %v", err)
	}
	tok, err := LoadVocab(path)
	if err != nil {
		t.Fatalf("LoadVocab failed: %v", err)
	}
	if tok.Size() != 6 {
		t.Errorf("Expected 6 tokens, got %d", tok.Size())
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`["not","a","map"]`), 0644); err != nil {
		t.Fatalf("Failed to write vocab: %v", err)
	}
	if _, err := LoadVocab(bad); err == nil {
		t.Error("Expected error for malformed vocabulary")
	}

	if _, err := LoadVocab(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Expected error for missing vocabulary")
	}
}

func TestFeatureProcessorNormalizes(t *testing.T) {
	p := FeatureProcessor{SampleRate: 16000, Normalize: true}
	in := []float32{1, 2, 3, 4, 5}

	out, err := p.Extract(in, 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	var mean, variance float64
	for _, v := range out {
		mean += float64(v)
	}
	mean /= float64(len(out))
	for _, v := range out {
		variance += (float64(v) - mean) * (float64(v) - mean)
	}
	variance /= float64(len(out))

	if math.Abs(mean) > 1e-6 {
		t.Errorf("Expected zero mean, got %f", mean)
	}
	if math.Abs(variance-1) > 1e-4 {
		t.Errorf("Expected unit variance, got %f", variance)
	}
	if in[0] != 1 {
		t.Error("Expected input to be left untouched")
	}
}

func TestFeatureProcessorSilence(t *testing.T) {
	out, err := FeatureProcessor{SampleRate: 16000, Normalize: true}.Extract(make([]float32, 100), 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	for i, v := range out {
		if v != 0 || math.IsNaN(float64(v)) {
			t.Fatalf("Sample %d: expected 0, got %f", i, v)
		}
	}
}

func TestFeatureProcessorRejects(t *testing.T) {
	p := FeatureProcessor{SampleRate: 16000}

	if _, err := p.Extract([]float32{0.1}, 8000); err == nil {
		t.Error("Expected error for sample rate mismatch")
	}
	if _, err := p.Extract(nil, 16000); err == nil {
		t.Error("Expected error for empty input")
	}

	out, err := p.Extract([]float32{0.25, -0.5}, 16000)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if out[0] != 0.25 || out[1] != -0.5 {
		t.Errorf("Expected passthrough without normalization, got %v", out)
	}
}

func TestHandleTranscribe(t *testing.T) {
	// H E L <pad> L O | W O R L D
	stub := &stubModel{ids: []int{5, 6, 7, 0, 7, 8, 4, 9, 8, 10, 7, 11}, classes: len(testVocab)}
	h, err := NewHandle(stub, FeatureProcessor{SampleRate: 16000, Normalize: true}, newTestTokenizer(t), DeviceCPU)
	if err != nil {
		t.Fatalf("NewHandle failed: %v", err)
	}

	text, err := h.Transcribe(context.Background(), []float32{0.1, 0.2, 0.3}, 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "HELLO WORLD" {
		t.Errorf("Expected HELLO WORLD, got %q", text)
	}
	if h.Device() != DeviceCPU {
		t.Errorf("Expected cpu device, got %s", h.Device())
	}
}

func TestHandleTranscribeErrors(t *testing.T) {
	tok := newTestTokenizer(t)
	features := FeatureProcessor{SampleRate: 16000}

	t.Run("model failure", func(t *testing.T) {
		sentinel := errors.New("out of memory")
		h, _ := NewHandle(&stubModel{err: sentinel}, features, tok, DeviceCPU)
		if _, err := h.Transcribe(context.Background(), []float32{0.1}, 16000); !errors.Is(err, sentinel) {
			t.Errorf("Expected model error, got %v", err)
		}
	})

	t.Run("vocabulary mismatch", func(t *testing.T) {
		h, _ := NewHandle(&stubModel{ids: []int{1}, classes: 32}, features, tok, DeviceCPU)
		if _, err := h.Transcribe(context.Background(), []float32{0.1}, 16000); err == nil {
			t.Error("Expected error for class count mismatch")
		}
	})

	t.Run("sample rate mismatch", func(t *testing.T) {
		stub := &stubModel{ids: []int{5}, classes: len(testVocab)}
		h, _ := NewHandle(stub, features, tok, DeviceCPU)
		if _, err := h.Transcribe(context.Background(), []float32{0.1}, 44100); err == nil {
			t.Error("Expected error for sample rate mismatch")
		}
		if stub.calls != 0 {
			t.Errorf("Expected model not to run, got %d calls", stub.calls)
		}
	})
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in       string
		expected Device
		valid    bool
	}{
		{in: "auto", expected: DeviceAuto, valid: true},
		{in: "CPU", expected: DeviceCPU, valid: true},
		{in: " cuda ", expected: DeviceCUDA, valid: true},
		{in: "", expected: DeviceAuto, valid: true},
		{in: "tpu", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDevice(tt.in)
			if tt.valid && (err != nil || d != tt.expected) {
				t.Errorf("Expected %s, got %s (%v)", tt.expected, d, err)
			}
			if !tt.valid && err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

// TestONNXModel runs against a real exported model when one is provided
func TestONNXModel(t *testing.T) {
	modelPath := os.Getenv("ASR_TEST_MODEL_PATH")
	vocabPath := os.Getenv("ASR_TEST_VOCAB_PATH")
	if modelPath == "" || vocabPath == "" {
		t.Skipf("ASR_TEST_MODEL_PATH and ASR_TEST_VOCAB_PATH not set")
	}

	loader := NewONNXLoader(discardLogger(), Config{
		ONNX: ONNXConfig{
			ModelPath:      modelPath,
			RuntimeLibrary: os.Getenv("ASR_TEST_ORT_LIBRARY"),
			Device:         DeviceCPU,
		},
		VocabPath:         vocabPath,
		SampleRate:        16000,
		NormalizeFeatures: true,
	})

	h, err := loader(context.Background())
	if err != nil {
		t.Fatalf("Loader failed: %v", err)
	}
	defer h.Close()

	// one second of silence decodes to nothing
	text, err := h.Transcribe(context.Background(), make([]float32, 16000), 16000)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "" {
		t.Logf("Silence transcribed as %q", text)
	}
}
