package transcription

import (
	"context"
	"errors"
)

var (
	// ErrEngineFailure wraps any failure of a speech-to-text engine call
	ErrEngineFailure = errors.New("transcription engine failure")
	// ErrDiarizationFailure wraps any failure of a speaker attribution call
	ErrDiarizationFailure = errors.New("diarization failure")
)

// Engine turns a mono 16 kHz PCM-16 WAV blob into text. An empty string means
// the chunk held no speech.
type Engine interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
	Name() string
}

// Diarizer returns a speaker label for a WAV blob
type Diarizer interface {
	Diarize(ctx context.Context, wav []byte) (string, error)
}
