// Package config provides configuration loading and validation for the ASR inference service.
// It handles YAML-based configuration with per-section validation and environment
// overrides for the settings that usually differ between deployments.
package config
