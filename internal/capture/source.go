package capture

import (
	"context"
	"errors"
	"time"

	"github.com/Ndahiroloicke/Transcripto/internal/audio"
)

var (
	// ErrDeviceUnavailable is returned by Open when the device cannot be opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrReadFailure is returned by ReadFrame when the device fails mid-stream
	ErrReadFailure = errors.New("audio read failure")
	// ErrFrameTimeout means no frame arrived within the read timeout; the stream is still healthy
	ErrFrameTimeout = errors.New("no audio frame within timeout")
	// ErrEndOfStream means a finite source has no more frames
	ErrEndOfStream = errors.New("end of audio stream")
)

// StreamConfig describes the capture format requested from a source
type StreamConfig struct {
	Device     string
	SampleRate int
	Channels   int
	FrameSize  int // samples per frame
}

// Source opens capture streams. Open is synchronous and fails fast with
// ErrDeviceUnavailable so callers can report the failure before changing state.
type Source interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is an open capture device
type Stream interface {
	// ReadFrame returns the next frame, waiting at most timeout.
	ReadFrame(timeout time.Duration) (audio.Frame, error)
	Close() error
}

func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[i*2]) | uint16(data[i*2+1])<<8)
	}
	return samples
}
