package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/config"
	"github.com/Ndahiroloicke/Transcripto/internal/export"
	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
	"github.com/Ndahiroloicke/Transcripto/internal/stream"
)

// Version is reported by /health and /
var Version = "dev"

// maxStartBody bounds the optional metadata body of /api/start
const maxStartBody = 1 << 20

// HTTPServer provides the session control API, the live event channel and monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	manager  *stream.Manager
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader

	// Server state
	startTime time.Time
	clients   map[*websocket.Conn]struct{}
	mu        sync.Mutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	manager *stream.Manager, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		manager:   manager,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
		clients:   make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The control page may be served from any origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      h.Handler(),
		ReadTimeout:  cfg.GetReadTimeout(),
		WriteTimeout: cfg.GetWriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the routed API handler
func (h *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	return mux
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Session control
	mux.HandleFunc("/api/start", h.withMetrics("/api/start", h.handleStart))
	mux.HandleFunc("/api/stop", h.withMetrics("/api/stop", h.handleStop))
	mux.HandleFunc("/api/status", h.withMetrics("/api/status", h.handleStatus))
	mux.HandleFunc("/api/transcript", h.withMetrics("/api/transcript", h.handleTranscript))
	mux.HandleFunc("/api/export", h.withMetrics("/api/export", h.handleExport))
	mux.HandleFunc("/api/devices", h.withMetrics("/api/devices", h.handleDevices))

	// Monitoring
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Live events; the upgrade needs the unwrapped writer
	mux.HandleFunc("/ws", h.handleWebSocket)

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listen address and serves in the background
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.logger.Info("Starting HTTP API server",
		slog.String("address", ln.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server and disconnects live clients
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	err := h.server.Shutdown(ctx)

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	h.mu.Unlock()

	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func methodAllowed(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.Header().Set("Allow", method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// handleStart implements POST /api/start. The optional JSON object body is kept as session metadata.
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}

	var metadata map[string]any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStartBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, stream.Result{Success: false, Message: "Failed to read request body"})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &metadata); err != nil {
			writeJSON(w, http.StatusBadRequest, stream.Result{Success: false, Message: "Request body must be a JSON object"})
			return
		}
	}

	res := h.manager.Start(r.Context(), metadata)
	writeJSON(w, http.StatusOK, res)
}

// handleStop implements POST /api/stop. It returns once the session has drained.
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Stop())
}

// handleStatus implements GET /api/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// handleTranscript implements GET /api/transcript
func (h *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, h.manager.Transcript())
}

// handleExport implements GET /api/export as a text attachment
func (h *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	filename, content, err := h.manager.Export(time.Now())
	if err != nil {
		if errors.Is(err, export.ErrEmptyTranscript) {
			writeJSON(w, http.StatusOK, stream.Result{Success: false, Message: "No transcript data"})
			return
		}
		h.logger.Error("Failed to export transcript", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, stream.Result{Success: false, Message: "Export failed"})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, content)
}

// handleDevices implements GET /api/devices
func (h *HTTPServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	devices, err := h.manager.Devices()
	if err != nil {
		h.logger.Warn("Failed to list audio devices", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"devices": []capture.Device{},
			"error":   err.Error(),
		})
		return
	}
	if devices == nil {
		devices = []capture.Device{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	h.mu.Lock()
	clients := len(h.clients)
	h.mu.Unlock()

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "transcripto",
			"version": Version,
		},
		"components": map[string]any{
			"session_manager":   h.manager.GetStats(),
			"websocket_clients": clients,
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	// API keys are left out
	sanitized := map[string]any{
		"audio": map[string]any{
			"sample_rate":           h.config.Audio.SampleRate,
			"channels":              h.config.Audio.Channels,
			"frame_size":            h.config.Audio.FrameSize,
			"chunk_duration":        h.config.Audio.ChunkDuration,
			"buffer_capacity":       h.config.Audio.BufferCapacity,
			"backpressure":          h.config.Audio.Backpressure,
			"flush_partial_on_stop": h.config.Audio.FlushPartialOnStop,
			"min_flush_duration":    h.config.Audio.MinFlushDuration,
		},
		"capture": map[string]any{
			"source":  h.config.Capture.Source,
			"device":  h.config.Capture.Device,
			"command": h.config.Capture.Command,
			"file":    h.config.Capture.File,
		},
		"transcription": map[string]any{
			"engine":      h.config.Transcription.Engine,
			"endpoint":    h.config.Transcription.Endpoint,
			"model":       h.config.Transcription.Model,
			"language":    h.config.Transcription.Language,
			"timeout":     h.config.Transcription.Timeout,
			"max_retries": h.config.Transcription.MaxRetries,
			"command":     h.config.Transcription.Command,
		},
		"diarization": map[string]any{
			"enabled":  h.config.Diarization.Enabled,
			"endpoint": h.config.Diarization.Endpoint,
			"timeout":  h.config.Diarization.Timeout,
		},
		"export": map[string]any{
			"output_dir":   h.config.Export.OutputDir,
			"save_on_stop": h.config.Export.SaveOnStop,
		},
		"logging": map[string]any{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !methodAllowed(w, r, http.MethodGet) {
		return
	}

	apiDoc := map[string]any{
		"service": "Transcripto live transcription service",
		"version": Version,
		"endpoints": map[string]any{
			"GET /":               "API documentation",
			"POST /api/start":     "Start a transcription session (optional JSON metadata body)",
			"POST /api/stop":      "Stop the session and wait for pending chunks",
			"GET /api/status":     "Session status and engine capabilities",
			"GET /api/transcript": "Transcript of the current or last session",
			"GET /api/export":     "Download the transcript as text",
			"GET /api/devices":    "List capture devices",
			"GET /ws":             "WebSocket stream of status_update and new_transcript events",
			"GET /health":         "Service health and pipeline statistics",
			"GET /config":         "Service configuration",
			"GET /metrics":        "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
