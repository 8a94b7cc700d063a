package model

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Device is where inference runs
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// ParseDevice converts a configuration value into a Device
func ParseDevice(s string) (Device, error) {
	switch d := Device(strings.ToLower(strings.TrimSpace(s))); d {
	case DeviceAuto, DeviceCPU, DeviceCUDA:
		return d, nil
	case "":
		return DeviceAuto, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, cpu or cuda)", s)
	}
}

// AcousticModel maps a feature vector to per-frame class scores
type AcousticModel interface {
	Forward(ctx context.Context, input []float32) (Logits, error)
	Close() error
}

// ONNXConfig contains ONNX Runtime session settings
type ONNXConfig struct {
	ModelPath      string
	RuntimeLibrary string
	Device         Device
	DeviceID       int
	IntraOpThreads int
	InputName      string
	OutputName     string
}

// ONNXModel runs a CTC acoustic model exported to ONNX. Forward is safe for
// concurrent use; every call allocates its own tensors.
type ONNXModel struct {
	session *ort.DynamicAdvancedSession
	device  Device

	closeOnce sync.Once
	closeErr  error
}

// LoadONNX initializes the ONNX Runtime environment and opens a session on
// the configured device. DeviceAuto tries CUDA first and falls back to CPU.
func LoadONNX(logger *slog.Logger, config ONNXConfig) (*ONNXModel, error) {
	if config.ModelPath == "" {
		return nil, fmt.Errorf("model path cannot be empty")
	}
	if config.InputName == "" {
		config.InputName = "input_values"
	}
	if config.OutputName == "" {
		config.OutputName = "logits"
	}

	if config.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(config.RuntimeLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
		}
	}

	session, device, err := openSession(logger, config)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}

	logger.Info("Acoustic model loaded",
		slog.String("path", config.ModelPath),
		slog.String("device", string(device)),
		slog.Int("device_id", config.DeviceID),
	)

	return &ONNXModel{
		session: session,
		device:  device,
	}, nil
}

func openSession(logger *slog.Logger, config ONNXConfig) (*ort.DynamicAdvancedSession, Device, error) {
	switch config.Device {
	case DeviceCPU:
		s, err := newSession(config, false)
		return s, DeviceCPU, err
	case DeviceCUDA:
		s, err := newSession(config, true)
		return s, DeviceCUDA, err
	default:
		s, err := newSession(config, true)
		if err == nil {
			return s, DeviceCUDA, nil
		}
		logger.Warn("CUDA unavailable, falling back to CPU",
			slog.String("error", err.Error()),
		)
		s, err = newSession(config, false)
		return s, DeviceCPU, err
	}
}

func newSession(config ONNXConfig, cuda bool) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	if config.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(config.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	if cuda {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOpts.Destroy()

		if err := cudaOpts.Update(map[string]string{
			"device_id": strconv.Itoa(config.DeviceID),
		}); err != nil {
			return nil, fmt.Errorf("failed to configure CUDA device %d: %w", config.DeviceID, err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA provider: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(config.ModelPath,
		[]string{config.InputName}, []string{config.OutputName}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", config.ModelPath, err)
	}
	return session, nil
}

// Device returns the device the session was opened on
func (m *ONNXModel) Device() Device {
	return m.device
}

// Forward runs the model on a [1 x T] input and returns [frames x classes]
// logits.
func (m *ONNXModel) Forward(ctx context.Context, input []float32) (Logits, error) {
	if err := ctx.Err(); err != nil {
		return Logits{}, err
	}

	in, err := ort.NewTensor(ort.NewShape(1, int64(len(input))), input)
	if err != nil {
		return Logits{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer in.Destroy()

	outputs := []ort.Value{nil}
	if err := m.session.Run([]ort.Value{in}, outputs); err != nil {
		return Logits{}, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return Logits{}, fmt.Errorf("unexpected output type %T", outputs[0])
	}

	shape := out.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return Logits{}, fmt.Errorf("unexpected output shape %v", shape)
	}

	// GetData aliases tensor memory that Destroy frees
	data := make([]float32, len(out.GetData()))
	copy(data, out.GetData())

	logits := Logits{
		Frames:  int(shape[1]),
		Classes: int(shape[2]),
		Data:    data,
	}
	return logits, logits.Validate()
}

// Close destroys the session and the ONNX Runtime environment
func (m *ONNXModel) Close() error {
	m.closeOnce.Do(func() {
		if err := m.session.Destroy(); err != nil {
			m.closeErr = fmt.Errorf("failed to destroy session: %w", err)
		}
		if err := ort.DestroyEnvironment(); err != nil && m.closeErr == nil {
			m.closeErr = fmt.Errorf("failed to destroy ONNX Runtime environment: %w", err)
		}
	})
	return m.closeErr
}
