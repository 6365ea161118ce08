package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAlreadyRecording is returned by Start when a session is recording or draining
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by BeginStop and Append outside a session
	ErrNotRecording = errors.New("not recording")
	// ErrNotStopping is returned by Finish unless a stop is in progress
	ErrNotStopping = errors.New("session is not stopping")
	// ErrInvalidEntry is returned by Append for empty text or an out-of-order sequence
	ErrInvalidEntry = errors.New("invalid transcript entry")
)

// Phase is the lifecycle position of the session
type Phase int

const (
	Idle Phase = iota
	Recording
	Stopping
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Entry is one transcribed chunk
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Sequence  uint64    `json:"sequence"`
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker"` // empty when no label was attached
}

// MarshalJSON encodes a missing speaker as null
func (e Entry) MarshalJSON() ([]byte, error) {
	var speaker *string
	if e.Speaker != "" {
		speaker = &e.Speaker
	}
	return json.Marshal(struct {
		Timestamp time.Time `json:"timestamp"`
		Sequence  uint64    `json:"sequence"`
		Text      string    `json:"text"`
		Speaker   *string   `json:"speaker"`
	}{e.Timestamp, e.Sequence, e.Text, speaker})
}

// Status is a point-in-time view of the session, readable without locking
type Status struct {
	State       Phase     `json:"state"`
	IsRecording bool      `json:"is_recording"`
	SessionID   string    `json:"session_id"`
	EntryCount  int       `json:"entry_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Snapshot is a copy of the session transcript
type Snapshot struct {
	SessionID string         `json:"session_id"`
	StartedAt time.Time      `json:"started_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Entries   []Entry        `json:"entries"`
}

// State holds the session lifecycle and its transcript.
// Transitions run Idle -> Recording -> Stopping -> Idle.
type State struct {
	phase     Phase
	id        string
	startedAt time.Time
	metadata  map[string]any
	entries   []Entry

	status atomic.Pointer[Status]
	mu     sync.Mutex
}

// New creates an idle session state
func New() *State {
	s := &State{entries: make([]Entry, 0)}
	s.publishLocked()
	return s
}

// Start begins a new session, discarding the previous transcript
func (s *State) Start(id string, metadata map[string]any, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Idle {
		return fmt.Errorf("%w: session %s is %s", ErrAlreadyRecording, s.id, s.phase)
	}

	s.phase = Recording
	s.id = id
	s.startedAt = now
	s.metadata = copyMetadata(metadata)
	s.entries = make([]Entry, 0)
	s.publishLocked()

	return nil
}

// BeginStop moves a recording session to Stopping
func (s *State) BeginStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Recording {
		return fmt.Errorf("%w: session is %s", ErrNotRecording, s.phase)
	}

	s.phase = Stopping
	s.publishLocked()
	return nil
}

// Finish returns a stopping session to Idle once its pipeline has drained.
// The transcript stays readable until the next Start.
func (s *State) Finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != Stopping {
		return fmt.Errorf("%w: session is %s", ErrNotStopping, s.phase)
	}

	s.phase = Idle
	s.publishLocked()
	return nil
}

// Append adds an entry. Entries are accepted while recording or draining,
// must carry text, and must have a sequence above the previous entry's.
func (s *State) Append(entry Entry) error {
	entry.Text = strings.TrimSpace(entry.Text)
	if entry.Text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidEntry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == Idle {
		return ErrNotRecording
	}

	if n := len(s.entries); n > 0 && entry.Sequence <= s.entries[n-1].Sequence {
		return fmt.Errorf("%w: sequence %d after %d", ErrInvalidEntry, entry.Sequence, s.entries[n-1].Sequence)
	}

	s.entries = append(s.entries, entry)
	s.publishLocked()
	return nil
}

// Status returns the latest status snapshot without taking the lock
func (s *State) Status() Status {
	return *s.status.Load()
}

// Phase returns the current phase
func (s *State) Phase() Phase {
	return s.status.Load().State
}

// Transcript returns a copy of the current session transcript
func (s *State) Transcript() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)

	return Snapshot{
		SessionID: s.id,
		StartedAt: s.startedAt,
		Metadata:  copyMetadata(s.metadata),
		Entries:   entries,
	}
}

// publishLocked must be called with the lock held
func (s *State) publishLocked() {
	s.status.Store(&Status{
		State:       s.phase,
		IsRecording: s.phase == Recording,
		SessionID:   s.id,
		EntryCount:  len(s.entries),
		StartedAt:   s.startedAt,
	})
}

func copyMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
