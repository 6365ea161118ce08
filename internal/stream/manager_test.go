package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/events"
	"github.com/Ndahiroloicke/Transcripto/internal/export"
	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
	"github.com/Ndahiroloicke/Transcripto/internal/session"
	"github.com/Ndahiroloicke/Transcripto/internal/transcription"
	"github.com/Ndahiroloicke/Transcripto/internal/vad"
)

const testFrameSize = 1600 // 100ms at 16 kHz

type fakeStream struct {
	frames    chan audio.Frame
	endErr    error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream(endErr error) *fakeStream {
	return &fakeStream{
		frames: make(chan audio.Frame, 64),
		endErr: endErr,
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return audio.Frame{}, s.endErr
		}
		return f, nil
	case <-s.closed:
		return audio.Frame{}, capture.ErrEndOfStream
	case <-time.After(timeout):
		return audio.Frame{}, capture.ErrFrameTimeout
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) push(n int) {
	for i := 0; i < n; i++ {
		s.frames <- audio.Frame{Samples: make([]int16, testFrameSize), CapturedAt: time.Now()}
	}
}

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	endErr  error
	openErr error
	opens   int
}

func (s *fakeSource) Open(ctx context.Context, cfg capture.StreamConfig) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opens++
	if s.openErr != nil {
		return nil, s.openErr
	}
	st := newFakeStream(s.endErr)
	s.streams = append(s.streams, st)
	return st, nil
}

func (s *fakeSource) last() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[len(s.streams)-1]
}

// fakeEngine answers calls in order; the worker is the only caller so call i is chunk i
type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) (string, error)
	gate    chan struct{} // when set, calls wait for it to close
	started chan int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transcribe(ctx context.Context, wav []byte) (string, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.mu.Unlock()

	if e.started != nil {
		e.started <- call
	}
	if e.gate != nil {
		select {
		case <-e.gate:
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", transcription.ErrEngineFailure, ctx.Err())
		}
	}
	if e.respond == nil {
		return fmt.Sprintf("chunk %d", call), nil
	}
	return e.respond(call)
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type fakeDiarizer struct {
	label string
	err   error
}

func (d *fakeDiarizer) Diarize(ctx context.Context, wav []byte) (string, error) {
	return d.label, d.err
}

func createTestManagerConfig() ManagerConfig {
	return ManagerConfig{
		Device:             "test",
		SampleRate:         16000,
		Channels:           1,
		FrameSize:          testFrameSize,
		ChunkDuration:      100 * time.Millisecond,
		Backpressure:       audio.PolicyBlock,
		PopTimeout:         20 * time.Millisecond,
		ReadTimeout:        20 * time.Millisecond,
		FlushPartialOnStop: true,
		MinFlushDuration:   50 * time.Millisecond,
		ListDevices: func() ([]capture.Device, error) {
			return []capture.Device{{Index: 0, Name: "Test Mic", ID: "hw:0,0", Channels: 1}}, nil
		},
	}
}

func newTestManager(t *testing.T, config ManagerConfig, source capture.Source, engine transcription.Engine,
	diarizer transcription.Diarizer) (*Manager, *metrics.Metrics) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	m := metrics.NewMetrics(prometheus.NewRegistry())

	mgr, err := NewManager(logger, config, source, engine, diarizer, m)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})
	return mgr, m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func waitIdle(t *testing.T, mgr *Manager) {
	t.Helper()
	waitFor(t, "idle state", func() bool { return mgr.Status().State == session.Idle })
}

func sequences(entries []session.Entry) []uint64 {
	seqs := make([]uint64, len(entries))
	for i, e := range entries {
		seqs[i] = e.Sequence
	}
	return seqs
}

func TestNewManagerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewMetrics(prometheus.NewRegistry())
	config := createTestManagerConfig()

	if _, err := NewManager(logger, config, nil, &fakeEngine{}, nil, m); err == nil {
		t.Error("Expected error for nil source")
	}
	if _, err := NewManager(logger, config, &fakeSource{}, nil, nil, m); err == nil {
		t.Error("Expected error for nil engine")
	}

	bad := config
	bad.ChunkDuration = 0
	if _, err := NewManager(logger, bad, &fakeSource{}, &fakeEngine{}, nil, m); err == nil {
		t.Error("Expected error for zero chunk duration")
	}
}

func TestStopWhenIdle(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig(), &fakeSource{}, &fakeEngine{}, nil)

	res := mgr.Stop()
	if res.Success || res.Message != MsgNotRecording {
		t.Errorf("Expected {false, %q}, got %+v", MsgNotRecording, res)
	}
	if mgr.Status().State != session.Idle {
		t.Errorf("Expected idle state, got %s", mgr.Status().State)
	}
}

func TestStartWhileRecording(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	mgr, m := newTestManager(t, createTestManagerConfig(), source, &fakeEngine{}, nil)

	res := mgr.Start(context.Background(), map[string]any{"video_info": map[string]any{"title": "demo"}})
	if !res.Success || res.Message != MsgStarted {
		t.Fatalf("Expected successful start, got %+v", res)
	}
	first := mgr.Status()
	if !first.IsRecording || first.State != session.Recording {
		t.Fatalf("Expected recording status, got %+v", first)
	}
	if !strings.HasPrefix(first.SessionID, "session_") {
		t.Errorf("Unexpected session id %q", first.SessionID)
	}

	res = mgr.Start(context.Background(), nil)
	if res.Success || res.Message != MsgAlreadyRecording {
		t.Errorf("Expected {false, %q}, got %+v", MsgAlreadyRecording, res)
	}
	if got := mgr.Status().SessionID; got != first.SessionID {
		t.Errorf("Session changed from %s to %s", first.SessionID, got)
	}
	if source.opens != 1 {
		t.Errorf("Expected device opened once, got %d", source.opens)
	}
	if got := testutil.ToFloat64(m.StartFailures.WithLabelValues("already_recording")); got != 1 {
		t.Errorf("Expected 1 already_recording failure, got %v", got)
	}

	if snap := mgr.Transcript(); snap.Metadata["video_info"] == nil {
		t.Error("Expected start metadata on the session")
	}

	res = mgr.Stop()
	if !res.Success || res.Message != MsgStopped {
		t.Errorf("Expected successful stop, got %+v", res)
	}
	if mgr.Status().State != session.Idle {
		t.Errorf("Expected idle after stop, got %s", mgr.Status().State)
	}
	if got := testutil.ToFloat64(m.SessionsStarted); got != 1 {
		t.Errorf("Expected 1 session started, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsStopped); got != 1 {
		t.Errorf("Expected 1 session stopped, got %v", got)
	}
}

func TestDeviceOpenFailure(t *testing.T) {
	source := &fakeSource{openErr: fmt.Errorf("%w: hw:9,0 not found", capture.ErrDeviceUnavailable)}
	mgr, m := newTestManager(t, createTestManagerConfig(), source, &fakeEngine{}, nil)

	res := mgr.Start(context.Background(), nil)
	if res.Success {
		t.Fatal("Expected start to fail")
	}
	if res.Message != "Audio device unavailable: hw:9,0 not found" {
		t.Errorf("Unexpected message %q", res.Message)
	}

	status := mgr.Status()
	if status.State != session.Idle || status.IsRecording || status.SessionID != "" {
		t.Errorf("Expected untouched idle status, got %+v", status)
	}
	if mgr.run != nil {
		t.Error("Expected no session pipeline after a failed start")
	}
	if got := testutil.ToFloat64(m.StartFailures.WithLabelValues("device_unavailable")); got != 1 {
		t.Errorf("Expected 1 device_unavailable failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsStarted); got != 0 {
		t.Errorf("Expected no session started, got %v", got)
	}
}

func TestThreeChunksWithEmptyMiddle(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{respond: func(call int) (string, error) {
		return []string{"  first words ", "   ", "third words"}[call], nil
	}}
	mgr, m := newTestManager(t, createTestManagerConfig(), source, engine, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(3)
	close(stream.frames)

	waitIdle(t, mgr)

	entries := mgr.Transcript().Entries
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Sequence != 0 || entries[0].Text != "first words" {
		t.Errorf("Unexpected first entry %+v", entries[0])
	}
	if entries[1].Sequence != 2 || entries[1].Text != "third words" {
		t.Errorf("Unexpected second entry %+v", entries[1])
	}
	if got := testutil.ToFloat64(m.TranscriptionEmpty); got != 1 {
		t.Errorf("Expected 1 empty transcription, got %v", got)
	}
}

func TestSilentChunksSkipped(t *testing.T) {
	detector, err := vad.NewDetector(0.05, 400, 0.5)
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	config := createTestManagerConfig()
	config.Detector = detector

	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{}
	mgr, m := newTestManager(t, config, source, engine, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}

	loud := make([]int16, testFrameSize)
	for i := range loud {
		loud[i] = 3000
		if i%2 == 1 {
			loud[i] = -3000
		}
	}
	stream := source.last()
	stream.frames <- audio.Frame{Samples: loud, CapturedAt: time.Now()}
	stream.frames <- audio.Frame{Samples: make([]int16, testFrameSize), CapturedAt: time.Now()}
	stream.frames <- audio.Frame{Samples: loud, CapturedAt: time.Now()}
	close(stream.frames)

	waitIdle(t, mgr)

	if got := sequences(mgr.Transcript().Entries); len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Errorf("Expected sequences [0 2], got %v", got)
	}
	if engine.callCount() != 2 {
		t.Errorf("Expected 2 engine calls, got %d", engine.callCount())
	}
	if got := testutil.ToFloat64(m.SilentChunks); got != 1 {
		t.Errorf("Expected 1 silent chunk, got %v", got)
	}

	stats := mgr.GetStats()
	if stats.Session == nil || stats.Session.ChunksSilent != 1 {
		t.Errorf("Expected session stats with 1 silent chunk, got %+v", stats.Session)
	}
	if stats.VAD == nil || stats.VAD.ChunksChecked != 3 {
		t.Errorf("Expected detector stats with 3 chunks checked, got %+v", stats.VAD)
	}
}

func TestStopDrainsQueuedChunks(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{gate: make(chan struct{}), started: make(chan int, 16)}
	mgr, _ := newTestManager(t, createTestManagerConfig(), source, engine, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(3)

	// Worker holds chunk 0 in the engine while chunks 1 and 2 wait in the buffer
	<-engine.started
	r := mgr.lastRun.Load()
	waitFor(t, "two queued chunks", func() bool { return r.buffer.Len() == 2 })

	stopped := make(chan Result, 1)
	go func() { stopped <- mgr.Stop() }()

	waitFor(t, "stopping state", func() bool { return mgr.Status().State == session.Stopping })
	select {
	case res := <-stopped:
		t.Fatalf("Stop returned before drain: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}

	// A start during drain is rejected without blocking
	if res := mgr.Start(context.Background(), nil); res.Success || res.Message != MsgAlreadyRecording {
		t.Errorf("Expected start during drain to be rejected, got %+v", res)
	}

	close(engine.gate)

	select {
	case res := <-stopped:
		if !res.Success || res.Message != MsgStopped {
			t.Errorf("Unexpected stop result %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after drain")
	}

	if mgr.Status().State != session.Idle {
		t.Errorf("Expected idle after drain, got %s", mgr.Status().State)
	}
	if r.buffer.Len() != 0 || !r.buffer.IsClosed() {
		t.Errorf("Expected closed and empty buffer, got len=%d closed=%v", r.buffer.Len(), r.buffer.IsClosed())
	}
	if got := sequences(mgr.Transcript().Entries); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("Expected all three chunks transcribed, got %v", got)
	}
}

func TestSequenceMonotonicAndSubsequence(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{respond: func(call int) (string, error) {
		switch {
		case call%3 == 1:
			return "", fmt.Errorf("%w: status 500", transcription.ErrEngineFailure)
		case call%4 == 2:
			return "", nil
		default:
			return fmt.Sprintf("words %d", call), nil
		}
	}}
	mgr, m := newTestManager(t, createTestManagerConfig(), source, engine, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(12)
	close(stream.frames)
	waitIdle(t, mgr)

	entries := mgr.Transcript().Entries
	if len(entries) == 0 {
		t.Fatal("Expected some entries")
	}
	for i, e := range entries {
		if e.Sequence >= 12 {
			t.Errorf("Entry sequence %d outside produced chunks", e.Sequence)
		}
		if i > 0 && e.Sequence <= entries[i-1].Sequence {
			t.Errorf("Sequence not increasing at %d: %v", i, sequences(entries))
		}
		if e.Text != fmt.Sprintf("words %d", e.Sequence) {
			t.Errorf("Entry %d carries text %q of another chunk", e.Sequence, e.Text)
		}
	}
	if got := testutil.ToFloat64(m.TranscriptionFailures); got != 4 {
		t.Errorf("Expected 4 transcription failures, got %v", got)
	}
	if engine.callCount() != 12 {
		t.Errorf("Expected 12 engine calls, got %d", engine.callCount())
	}
}

func TestDiarization(t *testing.T) {
	tests := []struct {
		name        string
		diarizer    transcription.Diarizer
		wantSpeaker string
		wantFailed  float64
		available   bool
	}{
		{
			name:        "label",
			diarizer:    &fakeDiarizer{label: "Speaker 1"},
			wantSpeaker: "Speaker 1",
			available:   true,
		},
		{
			name:        "always failing",
			diarizer:    &fakeDiarizer{err: fmt.Errorf("%w: status 503", transcription.ErrDiarizationFailure)},
			wantSpeaker: "",
			wantFailed:  2,
			available:   true,
		},
		{
			name:        "disabled",
			diarizer:    nil,
			wantSpeaker: "",
			available:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeSource{endErr: capture.ErrEndOfStream}
			mgr, m := newTestManager(t, createTestManagerConfig(), source, &fakeEngine{}, tt.diarizer)

			if got := mgr.Status().EngineCapabilities.DiarizationAvailable; got != tt.available {
				t.Errorf("Expected diarization_available=%v, got %v", tt.available, got)
			}

			if res := mgr.Start(context.Background(), nil); !res.Success {
				t.Fatalf("Start failed: %+v", res)
			}
			stream := source.last()
			stream.push(2)
			close(stream.frames)
			waitIdle(t, mgr)

			entries := mgr.Transcript().Entries
			if len(entries) != 2 {
				t.Fatalf("Expected 2 entries, got %d", len(entries))
			}
			for _, e := range entries {
				if e.Speaker != tt.wantSpeaker {
					t.Errorf("Expected speaker %q, got %q", tt.wantSpeaker, e.Speaker)
				}
			}
			if got := testutil.ToFloat64(m.DiarizationFailures); got != tt.wantFailed {
				t.Errorf("Expected %v diarization failures, got %v", tt.wantFailed, got)
			}
		})
	}
}

func TestCaptureFailureEndsSession(t *testing.T) {
	source := &fakeSource{endErr: fmt.Errorf("%w: device unplugged", capture.ErrReadFailure)}
	mgr, m := newTestManager(t, createTestManagerConfig(), source, &fakeEngine{}, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(2)
	close(stream.frames)

	waitIdle(t, mgr)

	if got := len(mgr.Transcript().Entries); got != 2 {
		t.Errorf("Expected chunks captured before the failure to be transcribed, got %d entries", got)
	}
	if got := testutil.ToFloat64(m.CaptureFailures); got != 1 {
		t.Errorf("Expected 1 capture failure, got %v", got)
	}
	if stats := mgr.GetStats(); stats.Session == nil || !strings.Contains(stats.Session.CaptureError, "device unplugged") {
		t.Errorf("Expected capture error in stats, got %+v", stats.Session)
	}
	if res := mgr.Stop(); res.Success || res.Message != MsgNotRecording {
		t.Errorf("Expected stop after failure to report not recording, got %+v", res)
	}

	// The manager accepts a new session afterwards
	source.endErr = capture.ErrEndOfStream
	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Errorf("Expected restart to succeed, got %+v", res)
	}
	if len(mgr.Transcript().Entries) != 0 {
		t.Error("Expected a fresh transcript for the new session")
	}
	mgr.Stop()
}

func TestPartialFlush(t *testing.T) {
	tests := []struct {
		name    string
		flush   bool
		minimum time.Duration
		want    int
	}{
		{name: "flushed", flush: true, minimum: 100 * time.Millisecond, want: 1},
		{name: "below minimum", flush: true, minimum: 250 * time.Millisecond, want: 0},
		{name: "disabled", flush: false, minimum: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := createTestManagerConfig()
			config.ChunkDuration = 300 * time.Millisecond
			config.FlushPartialOnStop = tt.flush
			config.MinFlushDuration = tt.minimum

			source := &fakeSource{endErr: capture.ErrEndOfStream}
			mgr, m := newTestManager(t, config, source, &fakeEngine{}, nil)

			if res := mgr.Start(context.Background(), nil); !res.Success {
				t.Fatalf("Start failed: %+v", res)
			}
			stream := source.last()
			stream.push(2)
			close(stream.frames)
			waitIdle(t, mgr)

			if got := len(mgr.Transcript().Entries); got != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, got)
			}
			if got := testutil.ToFloat64(m.PartialFlushes); got != float64(tt.want) {
				t.Errorf("Expected %d partial flushes, got %v", tt.want, got)
			}
		})
	}
}

func TestRejectPolicyDropsChunks(t *testing.T) {
	config := createTestManagerConfig()
	config.BufferCapacity = 1
	config.Backpressure = audio.PolicyReject

	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{gate: make(chan struct{}), started: make(chan int, 16)}
	mgr, m := newTestManager(t, config, source, engine, nil)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(1)
	<-engine.started

	stream.push(4)
	r := mgr.lastRun.Load()
	waitFor(t, "five chunks", func() bool { return r.assembler.GetStats().ChunksCreated == 5 })

	close(engine.gate)
	close(stream.frames)
	waitIdle(t, mgr)

	if got := testutil.ToFloat64(m.BufferRejections); got != 3 {
		t.Errorf("Expected 3 rejected chunks, got %v", got)
	}
	if got := sequences(mgr.Transcript().Entries); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Expected entries for chunks 0 and 1, got %v", got)
	}
}

func TestEventsPublished(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	mgr, _ := newTestManager(t, createTestManagerConfig(), source, &fakeEngine{}, nil)

	sub := mgr.Publisher().Subscribe(32)
	defer mgr.Publisher().Unsubscribe(sub)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	stream := source.last()
	stream.push(1)
	close(stream.frames)
	waitIdle(t, mgr)

	var states []session.Phase
	var entries []session.Entry
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case ev := <-sub.Events():
			switch ev.Type {
			case events.StatusUpdate:
				states = append(states, ev.Data.(StatusResponse).State)
			case events.NewTranscript:
				entries = append(entries, ev.Data.(session.Entry))
			}
		case <-timeout:
			done = true
		}
		if len(states) > 0 && states[len(states)-1] == session.Idle && len(states) > 1 {
			done = true
		}
	}

	want := []session.Phase{session.Idle, session.Recording, session.Stopping, session.Idle}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("Expected status sequence %v, got %v", want, states)
	}
	if len(entries) != 1 || entries[0].Text != "chunk 0" {
		t.Errorf("Unexpected published entries %+v", entries)
	}
}

func TestExportAndSaveOnStop(t *testing.T) {
	config := createTestManagerConfig()
	config.ExportDir = filepath.Join(t.TempDir(), "transcripts")
	config.SaveOnStop = true

	source := &fakeSource{endErr: capture.ErrEndOfStream}
	mgr, _ := newTestManager(t, config, source, &fakeEngine{}, nil)

	if _, _, err := mgr.Export(time.Now()); !errors.Is(err, export.ErrEmptyTranscript) {
		t.Errorf("Expected ErrEmptyTranscript before any session, got %v", err)
	}

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	source.last().push(1)
	waitFor(t, "first entry", func() bool { return mgr.Status().EntryCount == 1 })
	mgr.Stop()

	at := time.Date(2024, 3, 4, 5, 6, 7, 0, time.Local)
	filename, content, err := mgr.Export(at)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if filename != "transcript_20240304_050607.txt" {
		t.Errorf("Unexpected filename %s", filename)
	}
	if !strings.HasSuffix(content, "Speaker: chunk 0") {
		t.Errorf("Unexpected export content:\n%s", content)
	}

	files, err := filepath.Glob(filepath.Join(config.ExportDir, "transcript_*.txt"))
	if err != nil || len(files) != 1 {
		t.Fatalf("Expected one saved transcript, got %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("Failed to read saved transcript: %v", err)
	}
	if !strings.Contains(string(data), "Session ID: "+mgr.Status().SessionID) {
		t.Errorf("Saved transcript missing session id:\n%s", data)
	}
}

func TestDevices(t *testing.T) {
	mgr, _ := newTestManager(t, createTestManagerConfig(), &fakeSource{}, &fakeEngine{}, nil)

	devices, err := mgr.Devices()
	if err != nil {
		t.Fatalf("Devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "hw:0,0" {
		t.Errorf("Unexpected devices %+v", devices)
	}
}

func TestShutdownCancelsEngineAfterDeadline(t *testing.T) {
	source := &fakeSource{endErr: capture.ErrEndOfStream}
	engine := &fakeEngine{gate: make(chan struct{}), started: make(chan int, 16)}
	mgr, _ := newTestManager(t, createTestManagerConfig(), source, engine, nil)

	sub := mgr.Publisher().Subscribe(32)

	if res := mgr.Start(context.Background(), nil); !res.Success {
		t.Fatalf("Start failed: %+v", res)
	}
	source.last().push(1)
	<-engine.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := mgr.Shutdown(ctx); err == nil {
		t.Error("Expected an error when the drain deadline passes")
	}
	if mgr.Status().State != session.Idle {
		t.Errorf("Expected idle after shutdown, got %s", mgr.Status().State)
	}

	for range sub.Events() {
	}
}
