package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/config"
	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
	"github.com/Ndahiroloicke/Transcripto/internal/server"
	"github.com/Ndahiroloicke/Transcripto/internal/stream"
	"github.com/Ndahiroloicke/Transcripto/internal/transcription"
	"github.com/Ndahiroloicke/Transcripto/internal/vad"
)

func init() {
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().Bool("start", false, "Start a transcription session immediately")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", configPath),
	)

	// Configuration summary without API keys
	logger.Info("Configuration loaded",
		slog.String("capture_source", cfg.Capture.Source),
		slog.String("device", cfg.Capture.Device),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Int("buffer_capacity", cfg.Audio.BufferCapacity),
		slog.String("backpressure", cfg.Audio.Backpressure),
		slog.String("transcription_engine", cfg.Transcription.Engine),
		slog.Bool("diarization", cfg.Diarization.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(reg)
	logger.Info("Prometheus metrics initialized")

	source, err := buildSource(cfg, logger)
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg, appMetrics, logger)
	if err != nil {
		return err
	}

	diarizer, err := buildDiarizer(cfg)
	if err != nil {
		return err
	}

	managerConfig, err := buildManagerConfig(cfg)
	if err != nil {
		return err
	}

	mgr, err := stream.NewManager(logger, managerConfig, source, engine, diarizer, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	logger.Info("Session manager initialized",
		slog.String("engine", engine.Name()),
		slog.Bool("diarization_available", diarizer != nil),
	)

	logDevices(logger)

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, mgr, appMetrics, reg)
		if err := httpServer.Start(); err != nil {
			return err
		}
	}

	if start, _ := cmd.Flags().GetBool("start"); start {
		res := mgr.Start(context.Background(), nil)
		if !res.Success {
			logger.Error("Failed to start session", slog.String("message", res.Message))
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	// Give queued chunks one engine timeout to finish
	drainCtx, drainCancel := context.WithTimeout(context.Background(),
		cfg.Transcription.GetTimeoutDuration()+cfg.Audio.GetChunkDuration())
	defer drainCancel()

	if err := mgr.Shutdown(drainCtx); err != nil {
		logger.Warn("Session manager shutdown incomplete", slog.String("error", err.Error()))
	}

	stats := mgr.GetStats()
	attrs := []any{slog.Uint64("events_sent", stats.Publisher.Sent), slog.Uint64("events_dropped", stats.Publisher.Dropped)}
	if stats.Session != nil {
		attrs = append(attrs,
			slog.String("last_session", stats.Session.SessionID),
			slog.Uint64("chunks_processed", stats.Session.ChunksProcessed),
			slog.Uint64("chunks_failed", stats.Session.ChunksFailed),
		)
	}
	logger.Info("Final service statistics", attrs...)

	logger.Info("Service stopped")
	return nil
}

// buildSource creates the capture source selected by configuration
func buildSource(cfg *config.Config, logger *slog.Logger) (capture.Source, error) {
	switch cfg.Capture.Source {
	case "command":
		return capture.NewCommandSource(cfg.Capture.Command, cfg.Capture.Args,
			cfg.Capture.GetProbeTimeout(), logger), nil
	case "file":
		return capture.NewFileSource(cfg.Capture.File, cfg.Capture.Realtime), nil
	default:
		return nil, fmt.Errorf("unknown capture source %q", cfg.Capture.Source)
	}
}

// buildEngine creates the transcription engine selected by configuration
func buildEngine(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (transcription.Engine, error) {
	switch cfg.Transcription.Engine {
	case "http":
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:      cfg.Transcription.Endpoint,
			APIKey:        cfg.Transcription.APIKey,
			Model:         cfg.Transcription.Model,
			Language:      cfg.Transcription.Language,
			Timeout:       cfg.Transcription.GetTimeoutDuration(),
			MaxRetries:    cfg.Transcription.MaxRetries,
			MaxConcurrent: 1,
			OnRetry:       m.RecordTranscriptionRetry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create transcription client: %w", err)
		}
		return client, nil
	case "command":
		engine, err := transcription.NewCommandEngine(cfg.Transcription.Command, cfg.Transcription.Args,
			cfg.Transcription.GetTimeoutDuration(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create command engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unknown transcription engine %q", cfg.Transcription.Engine)
	}
}

// buildDiarizer returns nil when speaker attribution is disabled
func buildDiarizer(cfg *config.Config) (transcription.Diarizer, error) {
	if !cfg.Diarization.Enabled {
		return nil, nil
	}

	d, err := transcription.NewHTTPDiarizer(cfg.Diarization.Endpoint, cfg.Diarization.APIKey,
		cfg.Diarization.GetTimeoutDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to create diarizer: %w", err)
	}
	return d, nil
}

func buildManagerConfig(cfg *config.Config) (stream.ManagerConfig, error) {
	policy, err := audio.ParsePolicy(cfg.Audio.Backpressure)
	if err != nil {
		return stream.ManagerConfig{}, err
	}

	detector, err := buildDetector(cfg)
	if err != nil {
		return stream.ManagerConfig{}, err
	}

	return stream.ManagerConfig{
		Device:             cfg.Capture.Device,
		SampleRate:         cfg.Audio.SampleRate,
		Channels:           cfg.Audio.Channels,
		FrameSize:          cfg.Audio.FrameSize,
		ChunkDuration:      cfg.Audio.GetChunkDuration(),
		BufferCapacity:     cfg.Audio.BufferCapacity,
		Backpressure:       policy,
		PopTimeout:         cfg.Audio.GetPopTimeout(),
		ReadTimeout:        cfg.Capture.GetReadTimeout(),
		FlushPartialOnStop: cfg.Audio.FlushPartialOnStop,
		MinFlushDuration:   cfg.Audio.GetMinFlushDuration(),
		ExportDir:          cfg.Export.OutputDir,
		SaveOnStop:         cfg.Export.SaveOnStop,
		Detector:           detector,
	}, nil
}

// buildDetector returns nil when the voice activity gate is disabled
func buildDetector(cfg *config.Config) (*vad.Detector, error) {
	if !cfg.VAD.Enabled {
		return nil, nil
	}

	d, err := vad.NewDetector(cfg.VAD.Threshold, cfg.VAD.WindowSize, cfg.VAD.MinVoiceRatio)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice activity detector: %w", err)
	}
	return d, nil
}

// logDevices reports available capture devices at startup
func logDevices(logger *slog.Logger) {
	devices, err := capture.ListDevices()
	if err != nil {
		logger.Warn("Could not list capture devices", slog.String("error", err.Error()))
		return
	}

	logger.Info("Capture devices found", slog.Int("count", len(devices)))
	for _, d := range devices {
		logger.Info("Capture device",
			slog.Int("index", d.Index),
			slog.String("id", d.ID),
			slog.String("name", d.Name),
			slog.Int("channels", d.Channels),
		)
	}
}
