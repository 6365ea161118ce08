package audio

import (
	"sync"
	"time"
)

// Frame is one read from the capture device: mono PCM-16 samples
type Frame struct {
	Samples    []int16
	CapturedAt time.Time
}

// AudioChunk represents a fixed-duration slice of captured audio ready for transcription.
// Chunks are immutable once emitted.
type AudioChunk struct {
	Sequence   uint64        `json:"sequence"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Samples    []int16       `json:"-"`
	Partial    bool          `json:"partial"` // emitted by Flush
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	Duration   time.Duration
	SampleRate int
}

// ChunkAssembler accumulates frames into fixed-duration chunks for one session.
// Sequence numbers start at 0 and increase by one per emitted chunk.
type ChunkAssembler struct {
	config    ChunkingConfig
	threshold int

	pending      []int16
	pendingStart time.Time
	pendingEnd   time.Time
	nextSeq      uint64

	chunksCreated  uint64
	samplesTotal   uint64
	partialFlushes uint64

	mu sync.Mutex
}

// AssemblerStats represents chunk assembler statistics
type AssemblerStats struct {
	ChunksCreated   uint64  `json:"chunks_created"`
	PartialFlushes  uint64  `json:"partial_flushes"`
	SamplesTotal    uint64  `json:"samples_total"`
	PendingSamples  int     `json:"pending_samples"`
	PendingDuration float64 `json:"pending_duration_sec"`
	NextSequence    uint64  `json:"next_sequence"`
}

// NewChunkAssembler creates an assembler emitting chunks of config.Duration
func NewChunkAssembler(config ChunkingConfig) *ChunkAssembler {
	threshold := int(int64(config.Duration) * int64(config.SampleRate) / int64(time.Second))
	if threshold < 1 {
		threshold = 1
	}

	return &ChunkAssembler{
		config:    config,
		threshold: threshold,
		pending:   make([]int16, 0, threshold),
	}
}

// Push appends a frame and returns a chunk once the accumulated samples reach
// the configured duration. The chunk carries everything accumulated so far.
func (a *ChunkAssembler) Push(frame Frame) *AudioChunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(frame.Samples) == 0 {
		return nil
	}

	if len(a.pending) == 0 {
		a.pendingStart = frame.CapturedAt
	}
	a.pending = append(a.pending, frame.Samples...)
	a.pendingEnd = frame.CapturedAt
	a.samplesTotal += uint64(len(frame.Samples))

	if len(a.pending) < a.threshold {
		return nil
	}

	return a.emit(false)
}

// Flush emits the remaining partial chunk if it holds at least minDuration of audio.
// Shorter remainders are discarded. Either way the assembler is left empty.
func (a *ChunkAssembler) Flush(minDuration time.Duration) *AudioChunk {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pending) == 0 {
		return nil
	}

	if a.durationOf(len(a.pending)) < minDuration {
		a.reset()
		return nil
	}

	a.partialFlushes++
	return a.emit(true)
}

// emit must be called with the lock held
func (a *ChunkAssembler) emit(partial bool) *AudioChunk {
	samples := make([]int16, len(a.pending))
	copy(samples, a.pending)

	chunk := &AudioChunk{
		Sequence:   a.nextSeq,
		StartTime:  a.pendingStart,
		EndTime:    a.pendingEnd,
		Duration:   a.durationOf(len(samples)),
		SampleRate: a.config.SampleRate,
		Samples:    samples,
		Partial:    partial,
	}

	a.nextSeq++
	a.chunksCreated++
	a.reset()

	return chunk
}

func (a *ChunkAssembler) reset() {
	a.pending = a.pending[:0]
	a.pendingStart = time.Time{}
	a.pendingEnd = time.Time{}
}

func (a *ChunkAssembler) durationOf(samples int) time.Duration {
	if a.config.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(a.config.SampleRate))
}

// GetStats returns assembler statistics
func (a *ChunkAssembler) GetStats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AssemblerStats{
		ChunksCreated:   a.chunksCreated,
		PartialFlushes:  a.partialFlushes,
		SamplesTotal:    a.samplesTotal,
		PendingSamples:  len(a.pending),
		PendingDuration: a.durationOf(len(a.pending)).Seconds(),
		NextSequence:    a.nextSeq,
	}
}
