package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
)

// FileSource replays a mono PCM-16 WAV file as if it were a microphone
type FileSource struct {
	path     string
	realtime bool
}

// NewFileSource creates a WAV replay source. With realtime set, frames are
// paced at the rate they would arrive from a device.
func NewFileSource(path string, realtime bool) *FileSource {
	return &FileSource{path: path, realtime: realtime}
}

// Open loads the file and checks its format against cfg
func (s *FileSource) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %d", cfg.FrameSize)
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	samples, rate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, s.path, err)
	}

	if rate != cfg.SampleRate {
		return nil, fmt.Errorf("%w: %s has sample rate %d, expected %d",
			ErrDeviceUnavailable, s.path, rate, cfg.SampleRate)
	}

	return &fileStream{
		samples:   samples,
		frameSize: cfg.FrameSize,
		frameDur:  time.Duration(int64(cfg.FrameSize) * int64(time.Second) / int64(rate)),
		realtime:  s.realtime,
	}, nil
}

type fileStream struct {
	samples   []int16
	frameSize int
	frameDur  time.Duration
	realtime  bool

	mu     sync.Mutex
	pos    int
	nextAt time.Time
	closed bool
}

// ReadFrame returns the next frame of the file, or ErrEndOfStream once it is exhausted
func (s *fileStream) ReadFrame(timeout time.Duration) (audio.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.pos >= len(s.samples) {
		return audio.Frame{}, ErrEndOfStream
	}

	if s.realtime {
		now := time.Now()
		if s.nextAt.IsZero() {
			s.nextAt = now
		}
		if wait := s.nextAt.Sub(now); wait > 0 {
			if wait > timeout {
				time.Sleep(timeout)
				return audio.Frame{}, ErrFrameTimeout
			}
			time.Sleep(wait)
		}
		s.nextAt = s.nextAt.Add(s.frameDur)
	}

	end := s.pos + s.frameSize
	if end > len(s.samples) {
		end = len(s.samples)
	}

	frame := audio.Frame{
		Samples:    s.samples[s.pos:end],
		CapturedAt: time.Now(),
	}
	s.pos = end

	return frame, nil
}

// Close ends the replay
func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
