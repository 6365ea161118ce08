package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	VAD           VADConfig           `yaml:"vad"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Diarization   DiarizationConfig   `yaml:"diarization"`
	Export        ExportConfig        `yaml:"export"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains control API server configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	Enabled      bool   `yaml:"enabled"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds, covers the drain wait of /api/stop
}

// AudioConfig contains audio format and chunking parameters
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	Channels           int     `yaml:"channels"`
	BitDepth           int     `yaml:"bit_depth"`
	FrameSize          int     `yaml:"frame_size"`      // samples per device read
	ChunkDuration      float64 `yaml:"chunk_duration"`  // seconds
	BufferCapacity     int     `yaml:"buffer_capacity"` // chunks, 0 = unbounded
	Backpressure       string  `yaml:"backpressure"`    // "block" or "reject"
	PopTimeoutMs       int     `yaml:"pop_timeout_ms"`
	FlushPartialOnStop bool    `yaml:"flush_partial_on_stop"`
	MinFlushDuration   float64 `yaml:"min_flush_duration"` // seconds
}

// CaptureConfig selects and parameterizes the audio source
type CaptureConfig struct {
	Source         string   `yaml:"source"` // "command" or "file"
	Device         string   `yaml:"device"`
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	ProbeTimeoutMs int      `yaml:"probe_timeout_ms"`
	ReadTimeoutMs  int      `yaml:"read_timeout_ms"`
	File           string   `yaml:"file"`
	Realtime       bool     `yaml:"realtime"`
}

// VADConfig contains the optional silence gate applied before transcription
type VADConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Threshold     float64 `yaml:"threshold"`       // normalized RMS energy, 0-1
	WindowSize    int     `yaml:"window_size"`     // samples per energy window
	MinVoiceRatio float64 `yaml:"min_voice_ratio"` // share of voiced windows a chunk needs
}

// TranscriptionConfig contains speech-to-text engine configuration
type TranscriptionConfig struct {
	Engine     string   `yaml:"engine"` // "http" or "command"
	Endpoint   string   `yaml:"endpoint"`
	APIKey     string   `yaml:"api_key"`
	Model      string   `yaml:"model"`
	Language   string   `yaml:"language"`
	Timeout    int      `yaml:"timeout"` // seconds
	MaxRetries int      `yaml:"max_retries"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
}

// DiarizationConfig contains the optional speaker attribution engine configuration
type DiarizationConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// ExportConfig controls transcript files written on stop
type ExportConfig struct {
	OutputDir  string `yaml:"output_dir"`
	SaveOnStop bool   `yaml:"save_on_stop"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any key missing from the file.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:         5000,
			Address:      "localhost",
			Enabled:      true,
			ReadTimeout:  10,
			WriteTimeout: 300,
		},
		Audio: AudioConfig{
			SampleRate:         16000,
			Channels:           1,
			BitDepth:           16,
			FrameSize:          1024,
			ChunkDuration:      30,
			BufferCapacity:     0,
			Backpressure:       "block",
			PopTimeoutMs:       1000,
			FlushPartialOnStop: true,
			MinFlushDuration:   1.0,
		},
		Capture: CaptureConfig{
			Source:         "command",
			Device:         "default",
			Command:        "ffmpeg",
			Args:           []string{"-hide_banner", "-loglevel", "error", "-f", "alsa", "-i", "{device}", "-ac", "{channels}", "-ar", "{rate}", "-f", "s16le", "-"},
			ProbeTimeoutMs: 500,
			ReadTimeoutMs:  250,
		},
		VAD: VADConfig{
			Enabled:       false,
			Threshold:     0.02,
			WindowSize:    512,
			MinVoiceRatio: 0.1,
		},
		Transcription: TranscriptionConfig{
			Engine:     "http",
			Endpoint:   "http://localhost:8000/v1/audio/transcriptions",
			Model:      "whisper-1",
			Language:   "en",
			Timeout:    120,
			MaxRetries: 2,
		},
		Diarization: DiarizationConfig{
			Timeout: 120,
		},
		Export: ExportConfig{
			OutputDir: "transcripts",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of every configuration section
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Diarization.Validate(); err != nil {
		return fmt.Errorf("diarization config: %w", err)
	}

	if err := c.Export.Validate(); err != nil {
		return fmt.Errorf("export config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("http address cannot be empty when HTTP is enabled")
	}

	if h.ReadTimeout < 1 || h.WriteTimeout < 1 {
		return fmt.Errorf("read_timeout and write_timeout must be at least 1 second")
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the transcription engine, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.BufferCapacity < 0 {
		return fmt.Errorf("buffer_capacity cannot be negative, got %d", a.BufferCapacity)
	}

	if a.Backpressure != "block" && a.Backpressure != "reject" {
		return fmt.Errorf("backpressure must be 'block' or 'reject', got '%s'", a.Backpressure)
	}

	if a.PopTimeoutMs < 10 {
		return fmt.Errorf("pop_timeout_ms must be at least 10, got %d", a.PopTimeoutMs)
	}

	if a.MinFlushDuration < 0 || a.MinFlushDuration > a.ChunkDuration {
		return fmt.Errorf("min_flush_duration must be between 0 and chunk_duration (%f), got %f",
			a.ChunkDuration, a.MinFlushDuration)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case "command":
		if c.Command == "" {
			return fmt.Errorf("command cannot be empty for the command source")
		}
	case "file":
		if c.File == "" {
			return fmt.Errorf("file cannot be empty for the file source")
		}
	default:
		return fmt.Errorf("source must be 'command' or 'file', got '%s'", c.Source)
	}

	if c.ProbeTimeoutMs < 0 {
		return fmt.Errorf("probe_timeout_ms cannot be negative, got %d", c.ProbeTimeoutMs)
	}

	if c.ReadTimeoutMs < 10 {
		return fmt.Errorf("read_timeout_ms must be at least 10, got %d", c.ReadTimeoutMs)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold <= 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 16 {
		return fmt.Errorf("window_size must be at least 16 samples, got %d", v.WindowSize)
	}

	if v.MinVoiceRatio < 0 || v.MinVoiceRatio > 1 {
		return fmt.Errorf("min_voice_ratio must be between 0 and 1, got %f", v.MinVoiceRatio)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Engine {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	case "command":
		if t.Command == "" {
			return fmt.Errorf("command cannot be empty for the command engine")
		}
	default:
		return fmt.Errorf("engine must be 'http' or 'command', got '%s'", t.Engine)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	return nil
}

// Validate validates diarization configuration
func (d *DiarizationConfig) Validate() error {
	if !d.Enabled {
		return nil
	}

	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty when diarization is enabled")
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	return nil
}

// Validate validates export configuration
func (e *ExportConfig) Validate() error {
	if e.SaveOnStop && e.OutputDir == "" {
		return fmt.Errorf("output_dir cannot be empty when save_on_stop is enabled")
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

	// Anything other than stdout/stderr is treated as a file path.
	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetMinFlushDuration returns the minimum partial chunk duration as a time.Duration
func (a *AudioConfig) GetMinFlushDuration() time.Duration {
	return time.Duration(a.MinFlushDuration * float64(time.Second))
}

// GetPopTimeout returns the buffer pop timeout as a time.Duration
func (a *AudioConfig) GetPopTimeout() time.Duration {
	return time.Duration(a.PopTimeoutMs) * time.Millisecond
}

// GetProbeTimeout returns the device open probe window as a time.Duration
func (c *CaptureConfig) GetProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// GetReadTimeout returns the per-frame read timeout as a time.Duration
func (c *CaptureConfig) GetReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the diarization timeout as a time.Duration
func (d *DiarizationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}

// GetReadTimeout returns the HTTP read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeout returns the HTTP write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeout() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}
