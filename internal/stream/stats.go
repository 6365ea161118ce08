package stream

import (
	"github.com/Ndahiroloicke/Transcripto/internal/audio"
	"github.com/Ndahiroloicke/Transcripto/internal/events"
	"github.com/Ndahiroloicke/Transcripto/internal/transcription"
	"github.com/Ndahiroloicke/Transcripto/internal/vad"
)

// SessionStats describes the pipeline of the current or most recent session
type SessionStats struct {
	SessionID       string               `json:"session_id"`
	ChunksProcessed uint64               `json:"chunks_processed"`
	ChunksEmpty     uint64               `json:"chunks_empty"`
	ChunksSilent    uint64               `json:"chunks_silent"`
	ChunksFailed    uint64               `json:"chunks_failed"`
	ChunksRejected  uint64               `json:"chunks_rejected"`
	DiarizeFailures uint64               `json:"diarization_failures"`
	CaptureError    string               `json:"capture_error,omitempty"`
	Assembler       audio.AssemblerStats `json:"assembler"`
	Buffer          audio.BufferStats    `json:"buffer"`
}

// ManagerStats represents pipeline statistics for the health endpoint
type ManagerStats struct {
	Status    StatusResponse             `json:"status"`
	Session   *SessionStats              `json:"session,omitempty"`
	Publisher events.PublisherStats      `json:"publisher"`
	Engine    *transcription.ClientStats `json:"engine,omitempty"`
	VAD       *vad.DetectorStats         `json:"vad,omitempty"`
}

// GetStats returns pipeline statistics
func (m *Manager) GetStats() ManagerStats {
	stats := ManagerStats{
		Status:    m.Status(),
		Publisher: m.publisher.GetStats(),
	}

	if r := m.lastRun.Load(); r != nil {
		s := &SessionStats{
			SessionID:       r.id,
			ChunksProcessed: r.chunksProcessed.Load(),
			ChunksEmpty:     r.chunksEmpty.Load(),
			ChunksSilent:    r.chunksSilent.Load(),
			ChunksFailed:    r.chunksFailed.Load(),
			ChunksRejected:  r.chunksRejected.Load(),
			DiarizeFailures: r.diarizeFailed.Load(),
			Assembler:       r.assembler.GetStats(),
			Buffer:          r.buffer.GetStats(),
		}
		if v, ok := r.captureErr.Load().(string); ok {
			s.CaptureError = v
		}
		stats.Session = s
	}

	if m.config.Detector != nil {
		ds := m.config.Detector.GetStats()
		stats.VAD = &ds
	}

	if client, ok := m.engine.(*transcription.Client); ok {
		cs := client.GetStats()
		stats.Engine = &cs
	}

	return stats
}
