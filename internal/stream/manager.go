package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/events"
	"github.com/Ndahiroloicke/Transcripto/internal/export"
	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
	"github.com/Ndahiroloicke/Transcripto/internal/session"
	"github.com/Ndahiroloicke/Transcripto/internal/transcription"
	"github.com/Ndahiroloicke/Transcripto/internal/vad"
)

// Control result messages
const (
	MsgStarted           = "Transcription started"
	MsgStopped           = "Transcription stopped"
	MsgAlreadyRecording  = "Already recording"
	MsgNotRecording      = "Not recording"
	MsgDeviceUnavailable = "Audio device unavailable"
)

// Result is the outcome of a control operation. Failures are reported here, not as errors.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// EngineCapabilities describes the engines wired into the manager
type EngineCapabilities struct {
	TranscriptionEngine  string `json:"transcription_engine"`
	DiarizationAvailable bool   `json:"diarization_available"`
}

// StatusResponse is the session status plus engine capabilities
type StatusResponse struct {
	session.Status
	EngineCapabilities EngineCapabilities `json:"engine_capabilities"`
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Device     string
	SampleRate int
	Channels   int
	FrameSize  int

	ChunkDuration      time.Duration
	BufferCapacity     int
	Backpressure       audio.BackpressurePolicy
	PopTimeout         time.Duration
	ReadTimeout        time.Duration
	FlushPartialOnStop bool
	MinFlushDuration   time.Duration

	ExportDir  string
	SaveOnStop bool

	// Detector skips silent chunks before transcription; nil disables the gate
	Detector *vad.Detector

	// ListDevices enumerates capture devices; defaults to capture.ListDevices
	ListDevices func() ([]capture.Device, error)
}

// Manager owns the recording session: its state, the capture and transcription
// goroutines, and the publisher that reports progress to subscribers.
type Manager struct {
	logger   *slog.Logger
	config   ManagerConfig
	source   capture.Source
	engine   transcription.Engine
	diarizer transcription.Diarizer
	metrics  *metrics.Metrics

	state     *session.State
	publisher *events.Publisher

	// controlMu serializes Start and Stop; status reads never take it
	controlMu sync.Mutex
	run       *run
	lastRun   atomic.Pointer[run]

	// ctx bounds engine calls; cancelled only on Shutdown
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown atomic.Bool

	now func() time.Time
}

// run is one recording session's pipeline
type run struct {
	id        string
	startedAt time.Time
	stream    capture.Stream
	buffer    *audio.ChunkBuffer
	assembler *audio.ChunkAssembler
	diarizer  transcription.Diarizer

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	chunksProcessed atomic.Uint64
	chunksEmpty     atomic.Uint64
	chunksSilent    atomic.Uint64
	chunksFailed    atomic.Uint64
	chunksRejected  atomic.Uint64
	diarizeFailed   atomic.Uint64
	captureErr      atomic.Value // string
}

func (r *run) signalStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// NewManager creates a session manager. diarizer may be nil when speaker
// attribution is not configured.
func NewManager(logger *slog.Logger, config ManagerConfig, source capture.Source,
	engine transcription.Engine, diarizer transcription.Diarizer, m *metrics.Metrics) (*Manager, error) {

	if source == nil {
		return nil, fmt.Errorf("audio source cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("transcription engine cannot be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("metrics cannot be nil")
	}
	if config.SampleRate <= 0 || config.FrameSize <= 0 || config.ChunkDuration <= 0 {
		return nil, fmt.Errorf("sample rate, frame size and chunk duration must be positive")
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.PopTimeout <= 0 {
		config.PopTimeout = time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 250 * time.Millisecond
	}
	if config.ListDevices == nil {
		config.ListDevices = capture.ListDevices
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		logger:   logger,
		config:   config,
		source:   source,
		engine:   engine,
		diarizer: diarizer,
		metrics:  m,
		state:    session.New(),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
	mgr.publisher = events.NewPublisher(func() any { return mgr.Status() }, m, logger)

	return mgr, nil
}

// Publisher returns the event publisher for live subscribers
func (m *Manager) Publisher() *events.Publisher {
	return m.publisher
}

// Start opens the capture device and begins a new session. The device is
// opened before any state changes, so a failure leaves the manager idle.
func (m *Manager) Start(ctx context.Context, metadata map[string]any) Result {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	if m.state.Phase() != session.Idle {
		m.metrics.RecordStartFailure("already_recording")
		return Result{Success: false, Message: MsgAlreadyRecording}
	}

	input, err := m.source.Open(ctx, capture.StreamConfig{
		Device:     m.config.Device,
		SampleRate: m.config.SampleRate,
		Channels:   m.config.Channels,
		FrameSize:  m.config.FrameSize,
	})
	if err != nil {
		m.metrics.RecordStartFailure("device_unavailable")
		m.logger.Error("Failed to open audio device",
			slog.String("device", m.config.Device),
			slog.String("error", err.Error()),
		)
		return Result{Success: false, Message: MsgDeviceUnavailable + ": " + deviceErrorDetail(err)}
	}

	now := m.now()
	id := newSessionID(now)

	if err := m.state.Start(id, metadata, now); err != nil {
		input.Close()
		m.metrics.RecordStartFailure("already_recording")
		return Result{Success: false, Message: MsgAlreadyRecording}
	}

	r := &run{
		id:        id,
		startedAt: now,
		stream:    input,
		buffer:    audio.NewChunkBuffer(m.config.BufferCapacity, m.config.Backpressure),
		assembler: audio.NewChunkAssembler(audio.ChunkingConfig{
			Duration:   m.config.ChunkDuration,
			SampleRate: m.config.SampleRate,
		}),
		diarizer: m.diarizer,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.run = r
	m.lastRun.Store(r)
	m.metrics.RecordSessionStarted()

	// Published before the pipeline runs so it cannot trail a status from capture
	m.publisher.PublishStatus(m.Status())

	var g errgroup.Group
	g.Go(func() error {
		m.captureLoop(r)
		return nil
	})
	g.Go(func() error {
		m.transcriptionWorker(r)
		return nil
	})
	go m.supervise(r, &g)

	m.logger.Info("Transcription session started",
		slog.String("session_id", id),
		slog.String("device", m.config.Device),
		slog.Duration("chunk_duration", m.config.ChunkDuration),
		slog.Bool("diarization", r.diarizer != nil),
	)

	return Result{Success: true, Message: MsgStarted}
}

// Stop ends the current session and waits until every captured chunk has been
// transcribed. The wait happens outside the control lock, so a concurrent Start
// is rejected instead of blocking.
func (m *Manager) Stop() Result {
	m.controlMu.Lock()
	if err := m.state.BeginStop(); err != nil {
		m.controlMu.Unlock()
		return Result{Success: false, Message: MsgNotRecording}
	}
	m.publisher.PublishStatus(m.Status())
	r := m.run
	if r != nil {
		r.signalStop()
	}
	m.controlMu.Unlock()

	m.logger.Info("Stopping transcription session", slog.String("session_id", m.state.Status().SessionID))

	if r != nil {
		<-r.done
	}

	return Result{Success: true, Message: MsgStopped}
}

// supervise waits for the capture and worker goroutines, then returns the session to idle
func (m *Manager) supervise(r *run, g *errgroup.Group) {
	defer close(r.done)

	_ = g.Wait()

	// Taken while still Stopping so a following Start cannot clear it first.
	snap := m.state.Transcript()

	m.controlMu.Lock()
	if m.run == r {
		m.run = nil
	}
	m.controlMu.Unlock()

	if err := m.state.Finish(); err != nil {
		m.logger.Warn("Unexpected session state at drain", slog.String("error", err.Error()))
	}

	duration := m.now().Sub(r.startedAt)
	m.metrics.RecordSessionStopped(duration.Seconds())
	m.metrics.SetBufferDepth(0, r.buffer.GetStats().HighWater)

	m.logger.Info("Transcription session finished",
		slog.String("session_id", r.id),
		slog.Duration("duration", duration),
		slog.Int("entries", len(snap.Entries)),
		slog.Uint64("chunks_processed", r.chunksProcessed.Load()),
		slog.Uint64("chunks_empty", r.chunksEmpty.Load()),
		slog.Uint64("chunks_failed", r.chunksFailed.Load()),
	)

	m.publisher.PublishStatus(m.Status())

	if m.config.SaveOnStop && len(snap.Entries) > 0 {
		path, err := export.Save(m.config.ExportDir, snap, m.now())
		if err != nil {
			m.logger.Error("Failed to save transcript",
				slog.String("session_id", r.id),
				slog.String("error", err.Error()),
			)
		} else {
			m.logger.Info("Transcript saved", slog.String("session_id", r.id), slog.String("path", path))
		}
	}
}

// endFromCapture moves a recording session to Stopping when capture ends on its own
func (m *Manager) endFromCapture(r *run) {
	if err := m.state.BeginStop(); err != nil {
		return
	}
	m.logger.Info("Capture ended, draining session", slog.String("session_id", r.id))
	m.publisher.PublishStatus(m.Status())
}

// Status returns the current status. It never blocks on Start or Stop.
func (m *Manager) Status() StatusResponse {
	return StatusResponse{
		Status: m.state.Status(),
		EngineCapabilities: EngineCapabilities{
			TranscriptionEngine:  m.engine.Name(),
			DiarizationAvailable: m.diarizer != nil,
		},
	}
}

// Transcript returns a copy of the current or most recent session transcript
func (m *Manager) Transcript() session.Snapshot {
	return m.state.Transcript()
}

// Export renders the transcript as a text document and its download filename
func (m *Manager) Export(now time.Time) (filename string, content string, err error) {
	content, err = export.Render(m.state.Transcript(), now)
	if err != nil {
		return "", "", err
	}
	return export.Filename(now), content, nil
}

// Devices lists capture devices
func (m *Manager) Devices() ([]capture.Device, error) {
	return m.config.ListDevices()
}

// Shutdown stops any active session and closes the publisher. In-flight engine
// calls are given until ctx is done, after which they are cancelled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	m.logger.Info("Stopping session manager...")

	m.controlMu.Lock()
	r := m.run
	if r != nil {
		if err := m.state.BeginStop(); err == nil {
			m.publisher.PublishStatus(m.Status())
		}
		r.signalStop()
	}
	m.controlMu.Unlock()

	var err error
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			err = fmt.Errorf("session drain interrupted: %w", ctx.Err())
			m.logger.Warn("Shutdown deadline reached, cancelling engine calls")
			m.cancel()
			<-r.done
		}
	}

	m.cancel()
	m.publisher.Close()

	if closer, ok := m.engine.(interface{ Close() error }); ok {
		if cerr := closer.Close(); cerr != nil {
			m.logger.Warn("Error closing transcription engine", slog.String("error", cerr.Error()))
		}
	}

	m.logger.Info("Session manager stopped")
	return err
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("session_%d_%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

func deviceErrorDetail(err error) string {
	msg := err.Error()
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		msg = strings.TrimPrefix(msg, capture.ErrDeviceUnavailable.Error()+": ")
	}
	return msg
}
