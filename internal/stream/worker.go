package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/capture"
	"github.com/Ndahiroloicke/Transcripto/internal/session"
)

// captureLoop reads frames until stop is signalled or the device fails, then
// flushes the trailing partial chunk and closes the buffer for the worker.
func (m *Manager) captureLoop(r *run) {
	defer r.buffer.Close()

	for !m.stopRequested(r) {
		frame, err := r.stream.ReadFrame(m.config.ReadTimeout)
		if err != nil {
			if errors.Is(err, capture.ErrFrameTimeout) {
				continue
			}
			if errors.Is(err, capture.ErrEndOfStream) {
				if !m.stopRequested(r) {
					m.logger.Info("Audio stream ended", slog.String("session_id", r.id))
					m.endFromCapture(r)
				}
				break
			}

			r.captureErr.Store(err.Error())
			m.metrics.RecordCaptureFailure()
			m.logger.Error("Audio capture failed",
				slog.String("session_id", r.id),
				slog.String("error", err.Error()),
			)
			m.endFromCapture(r)
			break
		}

		m.metrics.RecordFrameCaptured()
		if chunk := r.assembler.Push(frame); chunk != nil {
			m.enqueue(r, chunk)
		}
	}

	if err := r.stream.Close(); err != nil {
		m.logger.Warn("Error closing audio stream", slog.String("error", err.Error()))
	}

	if m.config.FlushPartialOnStop {
		if chunk := r.assembler.Flush(m.config.MinFlushDuration); chunk != nil {
			m.logger.Info("Final partial chunk generated on session end",
				slog.String("session_id", r.id),
				slog.Uint64("sequence", chunk.Sequence),
				slog.Duration("duration", chunk.Duration),
			)
			m.enqueue(r, chunk)
		}
	}
}

func (m *Manager) stopRequested(r *run) bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// enqueue hands a chunk to the worker. Under the block policy the worker is
// always draining, so this returns once room is made.
func (m *Manager) enqueue(r *run, chunk *audio.AudioChunk) {
	m.metrics.RecordChunkGenerated(chunk.Duration.Seconds(), chunk.Partial)

	if err := r.buffer.Push(context.Background(), chunk); err != nil {
		if errors.Is(err, audio.ErrBufferFull) {
			r.chunksRejected.Add(1)
			m.metrics.RecordBufferRejection()
			m.logger.Warn("Chunk buffer full, dropping chunk",
				slog.String("session_id", r.id),
				slog.Uint64("sequence", chunk.Sequence),
			)
			return
		}
		m.logger.Error("Failed to queue chunk",
			slog.Uint64("sequence", chunk.Sequence),
			slog.String("error", err.Error()),
		)
		return
	}

	stats := r.buffer.GetStats()
	m.metrics.SetBufferDepth(stats.Length, stats.HighWater)

	m.logger.Debug("Chunk queued",
		slog.String("session_id", r.id),
		slog.Uint64("sequence", chunk.Sequence),
		slog.Duration("duration", chunk.Duration),
		slog.Int("queue_length", stats.Length),
	)
}

// transcriptionWorker is the single consumer of the chunk buffer. It exits only
// once the buffer is closed and drained.
func (m *Manager) transcriptionWorker(r *run) {
	for {
		chunk, err := r.buffer.Pop(m.config.PopTimeout)
		if errors.Is(err, audio.ErrBufferEmpty) {
			continue
		}
		if err != nil {
			return
		}

		stats := r.buffer.GetStats()
		m.metrics.SetBufferDepth(stats.Length, stats.HighWater)

		m.processChunk(r, chunk)
	}
}

func (m *Manager) processChunk(r *run, chunk *audio.AudioChunk) {
	if m.config.Detector != nil && !m.config.Detector.HasVoice(chunk.Samples) {
		r.chunksSilent.Add(1)
		m.metrics.RecordChunkSilent()
		m.logger.Debug("Skipping silent chunk",
			slog.String("session_id", r.id),
			slog.Uint64("sequence", chunk.Sequence),
		)
		return
	}

	wav, err := audio.EncodeChunkWAV(chunk)
	if err != nil {
		r.chunksFailed.Add(1)
		m.logger.Error("Failed to encode chunk",
			slog.Uint64("sequence", chunk.Sequence),
			slog.String("error", err.Error()),
		)
		return
	}

	m.logger.Debug("Sending chunk for transcription",
		slog.String("session_id", r.id),
		slog.Uint64("sequence", chunk.Sequence),
		slog.Duration("audio_duration", chunk.Duration),
		slog.Int("wav_size", len(wav)),
	)

	m.metrics.RecordTranscriptionRequest()
	start := time.Now()
	text, err := m.engine.Transcribe(m.ctx, wav)
	elapsed := time.Since(start)
	r.chunksProcessed.Add(1)

	if err != nil {
		r.chunksFailed.Add(1)
		m.metrics.RecordTranscriptionFailure(elapsed.Seconds())
		m.logger.Error("Transcription failed",
			slog.String("session_id", r.id),
			slog.Uint64("sequence", chunk.Sequence),
			slog.String("error", err.Error()),
			slog.Float64("duration", elapsed.Seconds()),
		)
		return
	}
	m.metrics.RecordTranscriptionSuccess(elapsed.Seconds())

	text = strings.TrimSpace(text)
	if text == "" {
		r.chunksEmpty.Add(1)
		m.metrics.RecordTranscriptionEmpty()
		m.logger.Debug("Empty transcription discarded", slog.Uint64("sequence", chunk.Sequence))
		return
	}

	var speaker string
	if r.diarizer != nil {
		label, err := r.diarizer.Diarize(m.ctx, wav)
		if err != nil {
			r.diarizeFailed.Add(1)
			m.metrics.RecordDiarizationFailure()
			m.logger.Warn("Diarization failed",
				slog.Uint64("sequence", chunk.Sequence),
				slog.String("error", err.Error()),
			)
		} else {
			speaker = label
		}
	}

	entry := session.Entry{
		Timestamp: m.now(),
		Sequence:  chunk.Sequence,
		Text:      text,
		Speaker:   speaker,
	}
	if err := m.state.Append(entry); err != nil {
		m.logger.Warn("Transcript entry rejected",
			slog.Uint64("sequence", chunk.Sequence),
			slog.String("error", err.Error()),
		)
		return
	}

	m.metrics.RecordEntryPublished()
	m.publisher.PublishEntry(entry)

	m.logger.Info("Chunk transcription completed",
		slog.String("session_id", r.id),
		slog.Uint64("sequence", chunk.Sequence),
		slog.Int("text_length", len(text)),
		slog.String("speaker", speaker),
		slog.Float64("duration", elapsed.Seconds()),
	)
}
