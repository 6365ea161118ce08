package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrBufferFull is returned by Push under the reject policy when the buffer is at capacity
	ErrBufferFull = errors.New("chunk buffer full")
	// ErrBufferClosed is returned by Push after Close, and by Pop once a closed buffer is drained
	ErrBufferClosed = errors.New("chunk buffer closed")
	// ErrBufferEmpty is returned by Pop when no chunk arrived within the timeout
	ErrBufferEmpty = errors.New("chunk buffer empty")
)

// BackpressurePolicy decides what Push does on a full bounded buffer
type BackpressurePolicy int

const (
	// PolicyBlock waits for room
	PolicyBlock BackpressurePolicy = iota
	// PolicyReject fails immediately with ErrBufferFull
	PolicyReject
)

// ParsePolicy maps the configuration value to a policy
func ParsePolicy(s string) (BackpressurePolicy, error) {
	switch s {
	case "block", "":
		return PolicyBlock, nil
	case "reject":
		return PolicyReject, nil
	default:
		return PolicyBlock, fmt.Errorf("unknown backpressure policy %q", s)
	}
}

func (p BackpressurePolicy) String() string {
	if p == PolicyReject {
		return "reject"
	}
	return "block"
}

// ChunkBuffer is a FIFO queue of chunks shared by one producer and one consumer.
// A capacity of 0 means unbounded. Closing the buffer stops producers while the
// consumer keeps draining whatever is queued.
type ChunkBuffer struct {
	capacity int
	policy   BackpressurePolicy

	queue   []*AudioChunk
	closed  bool
	changed chan struct{} // closed and replaced on every state change

	pushed    uint64
	popped    uint64
	rejected  uint64
	highWater int

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Capacity  int    `json:"capacity"`
	Policy    string `json:"policy"`
	Length    int    `json:"length"`
	Pushed    uint64 `json:"pushed"`
	Popped    uint64 `json:"popped"`
	Rejected  uint64 `json:"rejected"`
	HighWater int    `json:"high_water"`
	Closed    bool   `json:"closed"`
}

// NewChunkBuffer creates a chunk buffer
func NewChunkBuffer(capacity int, policy BackpressurePolicy) *ChunkBuffer {
	if capacity < 0 {
		capacity = 0
	}
	return &ChunkBuffer{
		capacity: capacity,
		policy:   policy,
		changed:  make(chan struct{}),
	}
}

// Push enqueues a chunk. Under PolicyBlock a full bounded buffer waits until the
// consumer makes room, the buffer is closed, or ctx is done.
func (b *ChunkBuffer) Push(ctx context.Context, chunk *AudioChunk) error {
	if chunk == nil {
		return fmt.Errorf("cannot push nil chunk")
	}

	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return ErrBufferClosed
		}

		if b.capacity == 0 || len(b.queue) < b.capacity {
			b.queue = append(b.queue, chunk)
			b.pushed++
			if len(b.queue) > b.highWater {
				b.highWater = len(b.queue)
			}
			b.signal()
			b.mu.Unlock()
			return nil
		}

		if b.policy == PolicyReject {
			b.rejected++
			b.mu.Unlock()
			return ErrBufferFull
		}

		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Pop dequeues the oldest chunk, waiting up to timeout for one to arrive.
// It returns ErrBufferEmpty on timeout and ErrBufferClosed once the buffer is closed and drained.
func (b *ChunkBuffer) Pop(timeout time.Duration) (*AudioChunk, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			chunk := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.popped++
			b.signal()
			b.mu.Unlock()
			return chunk, nil
		}

		if b.closed {
			b.mu.Unlock()
			return nil, ErrBufferClosed
		}

		wait := b.changed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return nil, ErrBufferEmpty
		}
	}
}

// Close stops accepting chunks. Queued chunks remain available to Pop.
func (b *ChunkBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	b.signal()
}

// Len returns the number of queued chunks
func (b *ChunkBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// IsClosed reports whether Close has been called
func (b *ChunkBuffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// GetStats returns buffer statistics
func (b *ChunkBuffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		Capacity:  b.capacity,
		Policy:    b.policy.String(),
		Length:    len(b.queue),
		Pushed:    b.pushed,
		Popped:    b.popped,
		Rejected:  b.rejected,
		HighWater: b.highWater,
		Closed:    b.closed,
	}
}

// signal wakes every waiter; must be called with the lock held
func (b *ChunkBuffer) signal() {
	close(b.changed)
	b.changed = make(chan struct{})
}
