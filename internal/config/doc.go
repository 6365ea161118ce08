// Package config provides configuration loading and validation for the live transcription service.
// It handles YAML-based configuration with per-section validation, fills unset keys from
// Default, and exposes duration helpers for the values stored as plain numbers.
package config
