package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Model   ModelConfig   `yaml:"model"`
	Audio   AudioConfig   `yaml:"audio"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Address            string   `yaml:"address"`
	Port               int      `yaml:"port"`
	ReadTimeout        int      `yaml:"read_timeout"`  // seconds
	WriteTimeout       int      `yaml:"write_timeout"` // seconds
	MaxUploadMB        int      `yaml:"max_upload_mb"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// ModelConfig describes the pretrained acoustic model and where it runs
type ModelConfig struct {
	Path              string `yaml:"path"`
	VocabPath         string `yaml:"vocab_path"`
	RuntimeLibrary    string `yaml:"runtime_library"` // onnxruntime shared library, empty for the system default
	Device            string `yaml:"device"`          // auto, cpu or cuda
	DeviceID          int    `yaml:"device_id"`
	IntraOpThreads    int    `yaml:"intra_op_threads"`
	InputName         string `yaml:"input_name"`
	OutputName        string `yaml:"output_name"`
	SampleRate        int    `yaml:"sample_rate"`
	NormalizeFeatures bool   `yaml:"normalize_features"`
}

// AudioConfig contains audio decoding parameters
type AudioConfig struct {
	TempDir       string `yaml:"temp_dir"`
	FFmpegPath    string `yaml:"ffmpeg_path"`
	FFprobePath   string `yaml:"ffprobe_path"`
	DecodeTimeout int    `yaml:"decode_timeout"` // seconds
}

// CacheConfig contains the optional transcript cache configuration
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"` // host:port or redis:// URL
	TTL     int    `yaml:"ttl"`  // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs with a model under ./models
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Address:            "0.0.0.0",
			Port:               8001,
			ReadTimeout:        60,
			WriteTimeout:       120,
			MaxUploadMB:        50,
			CORSAllowedOrigins: []string{"*"},
		},
		Model: ModelConfig{
			Path:              "models/wav2vec2-large-960h.onnx",
			VocabPath:         "models/vocab.json",
			Device:            "auto",
			InputName:         "input_values",
			OutputName:        "logits",
			SampleRate:        16000,
			NormalizeFeatures: true,
		},
		Audio: AudioConfig{
			FFmpegPath:    "ffmpeg",
			FFprobePath:   "ffprobe",
			DecodeTimeout: 60,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides selected fields from the environment. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	num := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	flag := func(dst *bool, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str(&c.HTTP.Address, "ASR_HTTP_ADDRESS")
	str(&c.Model.Path, "ASR_MODEL_PATH")
	str(&c.Model.VocabPath, "ASR_MODEL_VOCAB_PATH")
	str(&c.Model.Device, "ASR_MODEL_DEVICE")
	str(&c.Model.RuntimeLibrary, "ASR_ORT_LIBRARY", "ONNXRUNTIME_LIB")
	str(&c.Audio.TempDir, "ASR_TEMP_DIR")
	str(&c.Audio.FFmpegPath, "ASR_FFMPEG_PATH")
	str(&c.Audio.FFprobePath, "ASR_FFPROBE_PATH")
	str(&c.Cache.Addr, "ASR_CACHE_ADDR", "REDIS_ADDR", "REDIS_URL")
	str(&c.Logging.Level, "ASR_LOG_LEVEL")

	if v, ok := lookup("ASR_CORS_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.CORSAllowedOrigins = splitList(v)
	}

	if err := num(&c.HTTP.Port, "ASR_HTTP_PORT"); err != nil {
		return err
	}
	if err := num(&c.Model.DeviceID, "ASR_MODEL_DEVICE_ID"); err != nil {
		return err
	}
	if err := flag(&c.Cache.Enabled, "ASR_CACHE_ENABLED"); err != nil {
		return err
	}

	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	if h.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", h.MaxUploadMB)
	}

	return nil
}

// Validate validates model configuration. The files themselves are not
// checked here: a missing model degrades the service instead of stopping it.
func (m *ModelConfig) Validate() error {
	if m.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if m.VocabPath == "" {
		return fmt.Errorf("vocab_path cannot be empty")
	}

	validDevices := map[string]bool{"auto": true, "cpu": true, "cuda": true}
	if !validDevices[m.Device] {
		return fmt.Errorf("device must be one of [auto, cpu, cuda], got '%s'", m.Device)
	}

	if m.DeviceID < 0 {
		return fmt.Errorf("device_id cannot be negative, got %d", m.DeviceID)
	}

	if m.IntraOpThreads < 0 {
		return fmt.Errorf("intra_op_threads cannot be negative, got %d", m.IntraOpThreads)
	}

	if m.InputName == "" || m.OutputName == "" {
		return fmt.Errorf("input_name and output_name cannot be empty")
	}

	if m.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz, got %d", m.SampleRate)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.FFmpegPath == "" || a.FFprobePath == "" {
		return fmt.Errorf("ffmpeg_path and ffprobe_path cannot be empty")
	}

	if a.DecodeTimeout < 1 {
		return fmt.Errorf("decode_timeout must be at least 1 second, got %d", a.DecodeTimeout)
	}

	return nil
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty when cache is enabled")
	}

	if c.TTL < 1 {
		return fmt.Errorf("ttl must be at least 1 second, got %d", c.TTL)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetMaxUploadBytes returns the upload limit in bytes
func (h *HTTPConfig) GetMaxUploadBytes() int64 {
	return int64(h.MaxUploadMB) << 20
}

// GetDecodeTimeoutDuration returns the decode timeout as a time.Duration
func (a *AudioConfig) GetDecodeTimeoutDuration() time.Duration {
	return time.Duration(a.DecodeTimeout) * time.Second
}

// GetTTLDuration returns the cache TTL as a time.Duration
func (c *CacheConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
