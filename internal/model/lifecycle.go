package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is the load state of the model
type State int

const (
	StateUnloaded State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "unloaded"
}

// Loader builds a Handle
type Loader func(ctx context.Context) (*Handle, error)

// Lifecycle owns the process-wide Handle. Start loads it at most once;
// Stop releases it once every acquired handle has been released.
type Lifecycle struct {
	loader Loader
	logger *slog.Logger

	startOnce sync.Once

	mu       sync.RWMutex
	handle   *Handle
	loadErr  error
	loadedAt time.Time

	// callers currently holding the handle
	inflight sync.WaitGroup
}

// LifecycleStats represents lifecycle state for health reporting
type LifecycleStats struct {
	State     string    `json:"state"`
	Device    string    `json:"device,omitempty"`
	LoadError string    `json:"load_error,omitempty"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
}

// NewLifecycle creates an unloaded lifecycle
func NewLifecycle(logger *slog.Logger, loader Loader) *Lifecycle {
	return &Lifecycle{
		loader: loader,
		logger: logger,
	}
}

// Start runs the loader once. A failure is logged and recorded and the
// lifecycle stays unloaded; later calls return the same result.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.startOnce.Do(func() {
		start := time.Now()
		handle, err := l.loader(ctx)
		if err == nil && handle == nil {
			err = fmt.Errorf("loader returned no model")
		}

		l.mu.Lock()
		defer l.mu.Unlock()

		if err != nil {
			l.loadErr = err
			l.logger.Error("Failed to load model",
				slog.String("error", err.Error()),
				slog.Duration("elapsed", time.Since(start)),
			)
			return
		}

		l.handle = handle
		l.loadedAt = time.Now()
		l.logger.Info("Model ready",
			slog.String("device", string(handle.Device())),
			slog.Duration("elapsed", time.Since(start)),
		)
	})

	return l.LoadError()
}

// State returns the current state
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.handle != nil {
		return StateReady
	}
	return StateUnloaded
}

// Acquire returns the loaded handle and a release func that must be
// called when the caller is done with it. ok is false when no model is
// loaded or Stop has begun.
func (l *Lifecycle) Acquire() (handle *Handle, release func(), ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.handle == nil {
		return nil, func() {}, false
	}

	l.inflight.Add(1)
	var once sync.Once
	return l.handle, func() { once.Do(l.inflight.Done) }, true
}

// LoadError returns the error of the last load attempt
func (l *Lifecycle) LoadError() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.loadErr
}

// GetStats returns a snapshot for health reporting
func (l *Lifecycle) GetStats() LifecycleStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := LifecycleStats{State: StateUnloaded.String()}
	if l.handle != nil {
		stats.State = StateReady.String()
		stats.Device = string(l.handle.Device())
		stats.LoadedAt = l.loadedAt
	}
	if l.loadErr != nil {
		stats.LoadError = l.loadErr.Error()
	}
	return stats
}

// Stop stops handing out the model, waits for in-flight callers to
// release it, then closes it. If ctx ends first the model is left open and
// the context error is returned. Calling Stop again, or on a lifecycle
// that never loaded, returns nil.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	handle := l.handle
	l.handle = nil
	l.mu.Unlock()

	if handle == nil {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		l.logger.Warn("Model still in use, leaving it open",
			slog.String("error", ctx.Err().Error()),
		)
		return fmt.Errorf("waiting for in-flight inference: %w", ctx.Err())
	}

	if err := handle.Close(); err != nil {
		l.logger.Warn("Error releasing model", slog.String("error", err.Error()))
		return err
	}
	l.logger.Info("Model released")
	return nil
}
