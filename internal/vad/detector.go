package vad

import (
	"fmt"
	"math"
	"sync"
)

// fullScale is the RMS level treated as maximum voice energy
const fullScale = 10000.0

// Detector is an energy-based voice activity gate. A chunk counts as speech
// when enough of its windows have normalized RMS energy at or above the threshold.
type Detector struct {
	threshold     float64
	windowSize    int
	minVoiceRatio float64

	// Statistics
	chunksChecked uint64
	chunksSilent  uint64
	totalWindows  uint64
	voiceWindows  uint64

	mu sync.Mutex
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	Threshold       float64 `json:"threshold"`
	MinVoiceRatio   float64 `json:"min_voice_ratio"`
	ChunksChecked   uint64  `json:"chunks_checked"`
	ChunksSilent    uint64  `json:"chunks_silent"`
	VoicePercentage float64 `json:"voice_percentage"`
}

// NewDetector creates a detector. threshold is normalized energy in (0, 1],
// minVoiceRatio the share of voiced windows a chunk needs, in [0, 1].
func NewDetector(threshold float64, windowSize int, minVoiceRatio float64) (*Detector, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if minVoiceRatio < 0 || minVoiceRatio > 1 {
		return nil, fmt.Errorf("min voice ratio must be between 0 and 1, got %f", minVoiceRatio)
	}

	return &Detector{
		threshold:     threshold,
		windowSize:    windowSize,
		minVoiceRatio: minVoiceRatio,
	}, nil
}

// Energy returns the RMS energy of samples normalized to [0, 1]
func Energy(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return math.Min(math.Sqrt(sum/float64(len(samples)))/fullScale, 1)
}

// VoiceRatio returns the fraction of windows in samples whose energy reaches the threshold.
// A trailing short window is included.
func (d *Detector) VoiceRatio(samples []int16) float64 {
	windows, voiced := d.countWindows(samples)
	if windows == 0 {
		return 0
	}
	return float64(voiced) / float64(windows)
}

// HasVoice reports whether a chunk carries enough speech to transcribe
func (d *Detector) HasVoice(samples []int16) bool {
	windows, voiced := d.countWindows(samples)

	ratio := 0.0
	if windows > 0 {
		ratio = float64(voiced) / float64(windows)
	}
	hasVoice := voiced > 0 && ratio >= d.minVoiceRatio

	d.mu.Lock()
	d.chunksChecked++
	d.totalWindows += uint64(windows)
	d.voiceWindows += uint64(voiced)
	if !hasVoice {
		d.chunksSilent++
	}
	d.mu.Unlock()

	return hasVoice
}

func (d *Detector) countWindows(samples []int16) (windows, voiced int) {
	for start := 0; start < len(samples); start += d.windowSize {
		end := min(start+d.windowSize, len(samples))
		windows++
		if Energy(samples[start:end]) >= d.threshold {
			voiced++
		}
	}
	return windows, voiced
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	voicePercentage := float64(0)
	if d.totalWindows > 0 {
		voicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}

	return DetectorStats{
		Threshold:       d.threshold,
		MinVoiceRatio:   d.minVoiceRatio,
		ChunksChecked:   d.chunksChecked,
		ChunksSilent:    d.chunksSilent,
		VoicePercentage: voicePercentage,
	}
}
