package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Ndahiroloicke/Transcripto/internal/metrics"
)

// Type names an event on the push channel
type Type string

const (
	StatusUpdate  Type = "status_update"
	NewTranscript Type = "new_transcript"
)

// DefaultBuffer is the per-subscriber queue length used when none is given
const DefaultBuffer = 64

// Event is one message for live subscribers
type Event struct {
	Type Type `json:"event"`
	Data any  `json:"data"`
}

// Subscription is a live subscriber's queue
type Subscription struct {
	ID     string
	events chan Event

	dropped   atomic.Uint64
	closeOnce sync.Once
}

// Events returns the subscriber's queue. It is closed on Unsubscribe or publisher Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Dropped returns how many events this subscriber missed because its queue was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.events) })
}

// Publisher fans events out to subscribers. Delivery never blocks the caller:
// a subscriber whose queue is full misses the event. Nothing is replayed.
type Publisher struct {
	status  func() any
	metrics *metrics.Metrics
	logger  *slog.Logger

	subs    map[string]*Subscription
	closed  bool
	dropped atomic.Uint64
	sent    atomic.Uint64

	mu sync.RWMutex
}

// PublisherStats represents publisher statistics
type PublisherStats struct {
	Subscribers int    `json:"subscribers"`
	Sent        uint64 `json:"events_sent"`
	Dropped     uint64 `json:"events_dropped"`
}

// NewPublisher creates a publisher. status supplies the snapshot sent to every new subscriber.
func NewPublisher(status func() any, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{
		status:  status,
		metrics: m,
		logger:  logger,
		subs:    make(map[string]*Subscription),
	}
}

// Subscribe registers a subscriber and queues the current status for it
func (p *Publisher) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = DefaultBuffer
	}

	sub := &Subscription{
		ID:     uuid.NewString(),
		events: make(chan Event, buffer),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.close()
		return sub
	}
	// Queued before registration so it is always the first event seen.
	if p.status != nil {
		sub.events <- Event{Type: StatusUpdate, Data: p.status()}
	}
	p.subs[sub.ID] = sub
	count := len(p.subs)
	p.mu.Unlock()

	p.metrics.SetSubscribers(count)
	p.logger.Debug("Subscriber connected", slog.String("subscriber_id", sub.ID), slog.Int("subscribers", count))

	return sub
}

// Unsubscribe removes a subscriber and closes its queue
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.Lock()
	_, ok := p.subs[sub.ID]
	delete(p.subs, sub.ID)
	count := len(p.subs)
	if ok {
		sub.close()
	}
	p.mu.Unlock()

	if ok {
		p.metrics.SetSubscribers(count)
		p.logger.Debug("Subscriber disconnected", slog.String("subscriber_id", sub.ID), slog.Int("subscribers", count))
	}
}

// PublishEntry sends a new_transcript event
func (p *Publisher) PublishEntry(entry any) {
	p.publish(Event{Type: NewTranscript, Data: entry})
}

// PublishStatus sends a status_update event
func (p *Publisher) PublishStatus(status any) {
	p.publish(Event{Type: StatusUpdate, Data: status})
}

func (p *Publisher) publish(event Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return
	}

	for _, sub := range p.subs {
		select {
		case sub.events <- event:
			p.sent.Add(1)
		default:
			sub.dropped.Add(1)
			p.dropped.Add(1)
			p.metrics.RecordEventDropped()
			p.logger.Debug("Dropped event for slow subscriber",
				slog.String("subscriber_id", sub.ID),
				slog.String("event", string(event.Type)))
		}
	}
}

// SubscriberCount returns the number of live subscribers
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// GetStats returns publisher statistics
func (p *Publisher) GetStats() PublisherStats {
	return PublisherStats{
		Subscribers: p.SubscriberCount(),
		Sent:        p.sent.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// Close closes every subscriber queue; later publishes are ignored
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for id, sub := range p.subs {
		sub.close()
		delete(p.subs, id)
	}
	p.metrics.SetSubscribers(0)
}
