package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
)

type stubOptions struct {
	Text        string
	Delay       time.Duration
	Speakers    int
	FailEvery   int
	SilentEvery int
}

// stub answers like a transcription API: multipart WAV in, JSON out
type stub struct {
	opts     stubOptions
	logger   *slog.Logger
	requests atomic.Int64
	diarized atomic.Int64
}

func newStub(opts stubOptions, logger *slog.Logger) *stub {
	if opts.Speakers < 1 {
		opts.Speakers = 1
	}
	return &stub{opts: opts, logger: logger}
}

func (s *stub) routes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/audio/transcriptions", s.handleTranscribe)
	mux.HandleFunc("/diarize", s.handleDiarize)
}

// readWAV pulls the "file" part and returns its format information
func readWAV(r *http.Request) (*audio.WAVInfo, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("error parsing form: %w", err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("error getting audio file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("error reading audio file: %w", err)
	}

	return audio.GetWAVInfo(data)
}

func (s *stub) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := readWAV(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n := s.requests.Add(1)

	s.logger.Info("Transcription request received",
		slog.Int64("request", n),
		slog.String("request_id", r.Header.Get("X-Request-ID")),
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
		slog.Float64("audio_duration", info.Duration),
		slog.Uint64("sample_rate", uint64(info.SampleRate)),
	)

	if s.opts.FailEvery > 0 && n%int64(s.opts.FailEvery) == 0 {
		http.Error(w, "model busy", http.StatusServiceUnavailable)
		return
	}

	time.Sleep(s.opts.Delay)

	text := fmt.Sprintf("%s (%d, %.1fs)", s.opts.Text, n, info.Duration)
	if s.opts.SilentEvery > 0 && n%int64(s.opts.SilentEvery) == 0 {
		text = ""
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"text":     text,
		"language": r.FormValue("language"),
		"duration": info.Duration,
	})
}

func (s *stub) handleDiarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := readWAV(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n := s.diarized.Add(1)
	speaker := (n - 1) % int64(s.opts.Speakers)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"segments": []map[string]any{
			{"speaker": fmt.Sprintf("%d", speaker), "start": 0.0, "end": info.Duration},
		},
	})
}
