package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the live transcription service
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsStopped prometheus.Counter
	SessionDuration prometheus.Histogram
	StartFailures   *prometheus.CounterVec
	CaptureFailures prometheus.Counter

	// Audio chunking metrics
	FramesCaptured  prometheus.Counter
	ChunksGenerated prometheus.Counter
	ChunkDuration   prometheus.Histogram
	PartialFlushes  prometheus.Counter
	SilentChunks    prometheus.Counter

	// Buffer metrics
	BufferDepth      prometheus.Gauge
	BufferRejections prometheus.Counter
	BufferHighWater  prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionEmpty     prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter
	DiarizationFailures    prometheus.Counter

	// Publication metrics
	EntriesPublished prometheus.Counter
	EventsDropped    prometheus.Counter
	Subscribers      prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_sessions_stopped_total",
			Help: "Total number of recording sessions that returned to idle",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcripto_session_duration_seconds",
			Help:    "Duration of recording sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~85 minutes
		}),
		StartFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcripto_session_start_failures_total",
			Help: "Total number of rejected start requests",
		}, []string{"reason"}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_capture_failures_total",
			Help: "Total number of capture read failures that ended a session",
		}),

		// Audio chunking metrics
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_frames_captured_total",
			Help: "Total number of audio frames read from the device",
		}),
		ChunksGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_audio_chunks_generated_total",
			Help: "Total number of audio chunks assembled",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcripto_chunk_duration_seconds",
			Help:    "Duration of assembled audio chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1 minute
		}),
		PartialFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_partial_chunks_flushed_total",
			Help: "Total number of partial chunks flushed on stop",
		}),
		SilentChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_chunks_silent_total",
			Help: "Total number of chunks skipped by the voice activity gate",
		}),

		// Buffer metrics
		BufferDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcripto_chunk_buffer_depth",
			Help: "Current number of chunks waiting for transcription",
		}),
		BufferRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_chunk_buffer_rejections_total",
			Help: "Total number of chunks rejected by a full buffer",
		}),
		BufferHighWater: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcripto_chunk_buffer_high_water",
			Help: "Largest buffer depth seen in the current session",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionEmpty: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_transcription_empty_total",
			Help: "Total number of chunks transcribed to empty text",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcripto_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),
		DiarizationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_diarization_failures_total",
			Help: "Total number of failed diarization requests",
		}),

		// Publication metrics
		EntriesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_entries_published_total",
			Help: "Total number of transcript entries appended and published",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "transcripto_events_dropped_total",
			Help: "Total number of events dropped for slow subscribers",
		}),
		Subscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "transcripto_subscribers",
			Help: "Current number of live event subscribers",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcripto_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcripto_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "transcripto_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	m.SessionsStarted.Inc()
}

// RecordSessionStopped increments the sessions stopped counter and records duration
func (m *Metrics) RecordSessionStopped(durationSeconds float64) {
	m.SessionsStopped.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordStartFailure counts a rejected start by reason
func (m *Metrics) RecordStartFailure(reason string) {
	m.StartFailures.WithLabelValues(reason).Inc()
}

// RecordCaptureFailure counts a capture failure
func (m *Metrics) RecordCaptureFailure() {
	m.CaptureFailures.Inc()
}

// RecordFrameCaptured counts a frame read from the device
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordChunkGenerated records an assembled audio chunk
func (m *Metrics) RecordChunkGenerated(durationSeconds float64, partial bool) {
	m.ChunksGenerated.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	if partial {
		m.PartialFlushes.Inc()
	}
}

// RecordChunkSilent counts a chunk skipped as silence
func (m *Metrics) RecordChunkSilent() {
	m.SilentChunks.Inc()
}

// SetBufferDepth sets the current buffer depth and high water mark
func (m *Metrics) SetBufferDepth(depth, highWater int) {
	m.BufferDepth.Set(float64(depth))
	m.BufferHighWater.Set(float64(highWater))
}

// RecordBufferRejection counts a chunk rejected by a full buffer
func (m *Metrics) RecordBufferRejection() {
	m.BufferRejections.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionEmpty counts a chunk with no speech
func (m *Metrics) RecordTranscriptionEmpty() {
	m.TranscriptionEmpty.Inc()
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	m.TranscriptionRetries.Inc()
}

// RecordDiarizationFailure counts a failed diarization call
func (m *Metrics) RecordDiarizationFailure() {
	m.DiarizationFailures.Inc()
}

// RecordEntryPublished counts an appended transcript entry
func (m *Metrics) RecordEntryPublished() {
	m.EntriesPublished.Inc()
}

// RecordEventDropped counts an event dropped for a slow subscriber
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// SetSubscribers sets the current subscriber count
func (m *Metrics) SetSubscribers(count int) {
	m.Subscribers.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
