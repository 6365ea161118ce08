package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/config"
	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
	"github.com/Ndahiroloicke/Transcripto/internal/transcription"
)

func TestLogHandler(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LoggingConfig
		logDebug  bool
		logInfo   bool
		wantJSON  bool
		wantError bool
	}{
		{name: "debug text", cfg: config.LoggingConfig{Level: "debug", Format: "text"}, logDebug: true, logInfo: true},
		{name: "info json", cfg: config.LoggingConfig{Level: "info", Format: "json"}, logInfo: true, wantJSON: true},
		{name: "warn", cfg: config.LoggingConfig{Level: "warn", Format: "text"}},
		{name: "unknown level falls back to info", cfg: config.LoggingConfig{Level: "loud"}, logInfo: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(newLogHandler(tt.cfg, &buf))
			ctx := context.Background()

			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.logDebug {
				t.Errorf("Debug enabled = %v, want %v", got, tt.logDebug)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.logInfo {
				t.Errorf("Info enabled = %v, want %v", got, tt.logInfo)
			}

			logger.Error("boom")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.wantJSON {
				t.Errorf("JSON output = %v, want %v: %s", got, tt.wantJSON, buf.String())
			}
		})
	}
}

func TestOpenLogOutputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")

	w := openLogOutput(path)
	f, ok := w.(*os.File)
	if !ok {
		t.Fatalf("Expected a file writer, got %T", w)
	}
	defer f.Close()

	if f.Name() != path {
		t.Errorf("Expected %s, got %s", path, f.Name())
	}
	if openLogOutput("stderr") != os.Stderr || openLogOutput("") != os.Stdout {
		t.Error("Unexpected standard stream mapping")
	}
}

func TestBuildComponents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	cfg := config.Default()
	cfg.Audio.ChunkDuration = 5
	cfg.Audio.Backpressure = "reject"
	cfg.Audio.BufferCapacity = 4
	cfg.Export.SaveOnStop = true

	mc, err := buildManagerConfig(&cfg)
	if err != nil {
		t.Fatalf("buildManagerConfig failed: %v", err)
	}
	if mc.ChunkDuration != 5*time.Second || mc.Backpressure != audio.PolicyReject || mc.BufferCapacity != 4 {
		t.Errorf("Unexpected manager config %+v", mc)
	}
	if mc.Device != "default" || !mc.SaveOnStop || mc.ExportDir != "transcripts" {
		t.Errorf("Unexpected device/export settings %+v", mc)
	}
	if mc.Detector != nil {
		t.Error("Expected no detector when vad is disabled")
	}

	cfg.VAD.Enabled = true
	if mc, err = buildManagerConfig(&cfg); err != nil || mc.Detector == nil {
		t.Errorf("Expected detector when vad is enabled, got %v", err)
	}
	cfg.VAD.Threshold = 0
	if _, err = buildManagerConfig(&cfg); err == nil {
		t.Error("Expected error for invalid vad threshold")
	}
	cfg.VAD.Enabled = false

	source, err := buildSource(&cfg, logger)
	if err != nil {
		t.Fatalf("buildSource failed: %v", err)
	}
	if _, ok := source.(*capture.CommandSource); !ok {
		t.Errorf("Expected command source, got %T", source)
	}

	cfg.Capture.Source = "file"
	cfg.Capture.File = "input.wav"
	if source, _ = buildSource(&cfg, logger); source == nil {
		t.Error("Expected file source")
	}

	engine, err := buildEngine(&cfg, m, logger)
	if err != nil {
		t.Fatalf("buildEngine failed: %v", err)
	}
	if _, ok := engine.(*transcription.Client); !ok || engine.Name() != "http:whisper-1" {
		t.Errorf("Unexpected engine %T %s", engine, engine.Name())
	}

	diarizer, err := buildDiarizer(&cfg)
	if err != nil || diarizer != nil {
		t.Errorf("Expected no diarizer when disabled, got %v, %v", diarizer, err)
	}

	cfg.Diarization.Enabled = true
	cfg.Diarization.Endpoint = "http://localhost:9000/diarize"
	if diarizer, err = buildDiarizer(&cfg); err != nil || diarizer == nil {
		t.Errorf("Expected diarizer when enabled, got %v, %v", diarizer, err)
	}
}

func TestDevicesCommandRuns(t *testing.T) {
	if _, err := os.Stat("/proc/asound"); err != nil {
		t.Skipf("No ALSA proc interface: %v", err)
	}

	var out bytes.Buffer
	devicesCmd.SetOut(&out)
	defer devicesCmd.SetOut(nil)

	if err := runDevices(devicesCmd, nil); err != nil {
		t.Fatalf("runDevices failed: %v", err)
	}
	if out.Len() == 0 {
		t.Error("Expected device table or empty notice")
	}
}
