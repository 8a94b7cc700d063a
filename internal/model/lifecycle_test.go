package model

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLifecycleStart(t *testing.T) {
	stub := &stubModel{ids: []int{5}, classes: len(testVocab)}
	var loads atomic.Int32

	l := NewLifecycle(discardLogger(), func(ctx context.Context) (*Handle, error) {
		loads.Add(1)
		return NewHandle(stub, FeatureProcessor{SampleRate: 16000}, newTestTokenizer(t), DeviceCUDA)
	})

	if l.State() != StateUnloaded {
		t.Fatalf("Expected unloaded before Start, got %s", l.State())
	}
	if _, release, ok := l.Acquire(); ok {
		release()
		t.Fatal("Expected no handle before Start")
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Second Start failed: %v", err)
	}
	if loads.Load() != 1 {
		t.Errorf("Expected exactly one load, got %d", loads.Load())
	}

	if l.State() != StateReady {
		t.Errorf("Expected ready, got %s", l.State())
	}
	h, release, ok := l.Acquire()
	if !ok || h.Device() != DeviceCUDA {
		t.Errorf("Expected cuda handle, got %v %v", h, ok)
	}
	release()

	stats := l.GetStats()
	if stats.State != "ready" || stats.Device != "cuda" || stats.LoadError != "" {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestLifecycleFailedLoadStaysUnloaded(t *testing.T) {
	sentinel := errors.New("model file not found")
	l := NewLifecycle(discardLogger(), func(ctx context.Context) (*Handle, error) {
		return nil, sentinel
	})

	if err := l.Start(context.Background()); !errors.Is(err, sentinel) {
		t.Fatalf("Expected load error, got %v", err)
	}
	if l.State() != StateUnloaded {
		t.Errorf("Expected unloaded, got %s", l.State())
	}
	if !errors.Is(l.LoadError(), sentinel) {
		t.Errorf("Expected recorded load error, got %v", l.LoadError())
	}
	if stats := l.GetStats(); stats.LoadError != sentinel.Error() {
		t.Errorf("Expected load error in stats, got %+v", stats)
	}

	// Stop on a lifecycle that never loaded is a no-op
	if err := l.Stop(context.Background()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestLifecycleNilHandle(t *testing.T) {
	l := NewLifecycle(discardLogger(), func(ctx context.Context) (*Handle, error) {
		return nil, nil
	})

	if err := l.Start(context.Background()); err == nil {
		t.Error("Expected error for loader returning no handle")
	}
	if l.State() != StateUnloaded {
		t.Errorf("Expected unloaded, got %s", l.State())
	}
}

func TestLifecycleStop(t *testing.T) {
	stub := &stubModel{ids: []int{5}, classes: len(testVocab)}
	l := NewLifecycle(discardLogger(), func(ctx context.Context) (*Handle, error) {
		return NewHandle(stub, FeatureProcessor{SampleRate: 16000}, newTestTokenizer(t), DeviceCPU)
	})

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Second Stop failed: %v", err)
	}

	if stub.closed != 1 {
		t.Errorf("Expected model closed once, got %d", stub.closed)
	}
	if l.State() != StateUnloaded {
		t.Errorf("Expected unloaded after Stop, got %s", l.State())
	}
}

// blockingModel holds Forward until release is closed
type blockingModel struct {
	entered chan struct{}
	release chan struct{}
	closed  atomic.Int32
}

func newBlockingModel() *blockingModel {
	return &blockingModel{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingModel) Forward(ctx context.Context, input []float32) (Logits, error) {
	close(b.entered)
	<-b.release
	if b.closed.Load() != 0 {
		return Logits{}, errors.New("forward ran on a closed model")
	}
	return oneHot([]int{5}, len(testVocab)), nil
}

func (b *blockingModel) Close() error {
	b.closed.Add(1)
	return nil
}

func startBlockingLifecycle(t *testing.T, m *blockingModel) *Lifecycle {
	t.Helper()

	l := NewLifecycle(discardLogger(), func(ctx context.Context) (*Handle, error) {
		return NewHandle(m, FeatureProcessor{SampleRate: 16000}, newTestTokenizer(t), DeviceCPU)
	})
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return l
}

// transcribeInBackground acquires the handle and runs one inference
func transcribeInBackground(t *testing.T, l *Lifecycle) <-chan error {
	t.Helper()

	h, release, ok := l.Acquire()
	if !ok {
		t.Fatal("Expected a loaded handle")
	}

	done := make(chan error, 1)
	go func() {
		defer release()
		_, err := h.Transcribe(context.Background(), make([]float32, 160), 16000)
		done <- err
	}()
	return done
}

func TestLifecycleStopWaitsForInflight(t *testing.T) {
	m := newBlockingModel()
	l := startBlockingLifecycle(t, m)

	inference := transcribeInBackground(t, l)
	<-m.entered

	stopped := make(chan error, 1)
	go func() {
		stopped <- l.Stop(context.Background())
	}()

	// new callers are turned away as soon as Stop begins
	deadline := time.Now().Add(time.Second)
	for l.State() != StateUnloaded && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if _, _, ok := l.Acquire(); ok {
		t.Error("Expected Acquire to fail once Stop has begun")
	}

	select {
	case err := <-stopped:
		t.Fatalf("Stop returned while inference was running: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	if m.closed.Load() != 0 {
		t.Fatal("Model closed while inference was running")
	}

	close(m.release)

	if err := <-inference; err != nil {
		t.Errorf("Inference failed: %v", err)
	}
	if err := <-stopped; err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if m.closed.Load() != 1 {
		t.Errorf("Expected model closed once, got %d", m.closed.Load())
	}
}

func TestLifecycleStopTimeoutLeavesModelOpen(t *testing.T) {
	m := newBlockingModel()
	l := startBlockingLifecycle(t, m)

	inference := transcribeInBackground(t, l)
	<-m.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := l.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if m.closed.Load() != 0 {
		t.Error("Expected model left open after drain timeout")
	}

	close(m.release)
	if err := <-inference; err != nil {
		t.Errorf("Inference failed: %v", err)
	}
}
