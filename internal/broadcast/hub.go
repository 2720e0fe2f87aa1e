// Package broadcast fans reconciler change events out to push subscribers.
// Subscribers receive the latest known state immediately on attach, and a
// slow subscriber only ever loses its own oldest events; it never blocks
// the publisher or its peers.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"platter/internal/api"
	"platter/internal/logging"
)

// Event is any payload pushed to subscribers. Concrete types are
// api.StatusEvent and api.OutputsEvent.
type Event any

// Subscriber is one attached push consumer.
type Subscriber struct {
	id     uuid.UUID
	name   string
	ch     chan Event
	hub    *Hub
	closed bool
	mu     sync.Mutex
}

// ID identifies the subscriber in logs.
func (s *Subscriber) ID() uuid.UUID { return s.id }

// C exposes the event channel. It is closed when the subscriber detaches or
// the hub shuts down.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.remove(s)
}

// Hub tracks subscribers and the latest event of each kind.
type Hub struct {
	logger     *slog.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[uuid.UUID]*Subscriber
	lastStatus  *api.StatusEvent
	lastOutputs *api.OutputsEvent
	shutdown    bool
}

// NewHub constructs a hub whose subscriber channels hold bufferSize pending
// events before drop-oldest kicks in.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		logger:      logging.NewComponentLogger(logger, "broadcast"),
		bufferSize:  bufferSize,
		subscribers: make(map[uuid.UUID]*Subscriber),
	}
}

// Subscribe attaches a consumer and immediately queues the latest status and
// outputs events so new subscribers never wait for the next change.
func (h *Hub) Subscribe(name string) *Subscriber {
	sub := &Subscriber{
		id:   uuid.New(),
		name: name,
		ch:   make(chan Event, h.bufferSize),
		hub:  h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		close(sub.ch)
		sub.closed = true
		sub.hub = nil
		return sub
	}
	if h.lastStatus != nil {
		sub.enqueue(*h.lastStatus, h.logger)
	}
	if h.lastOutputs != nil {
		sub.enqueue(*h.lastOutputs, h.logger)
	}
	h.subscribers[sub.id] = sub
	return sub
}

// PublishStatus records and fans out a status change.
func (h *Hub) PublishStatus(event api.StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.lastStatus = &event
	for _, sub := range h.subscribers {
		sub.enqueue(event, h.logger)
	}
}

// PublishOutputs records and fans out an outputs change.
func (h *Hub) PublishOutputs(event api.OutputsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.lastOutputs = &event
	for _, sub := range h.subscribers {
		sub.enqueue(event, h.logger)
	}
}

// Latest returns the most recent status and outputs events, if any have been
// published. Used by the polling endpoints as the fallback read path.
func (h *Hub) Latest() (*api.StatusEvent, *api.OutputsEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var status *api.StatusEvent
	var outputs *api.OutputsEvent
	if h.lastStatus != nil {
		s := *h.lastStatus
		status = &s
	}
	if h.lastOutputs != nil {
		o := *h.lastOutputs
		o.Outputs = append([]api.Output(nil), o.Outputs...)
		outputs = &o
	}
	return status, outputs
}

// SubscriberCount reports how many consumers are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Shutdown detaches every subscriber and closes their channels.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shutdown {
		return
	}
	h.shutdown = true
	for id, sub := range h.subscribers {
		sub.closeChannel()
		delete(h.subscribers, id)
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub.id]; !ok {
		return
	}
	delete(h.subscribers, sub.id)
	sub.closeChannel()
}

// enqueue performs a non-blocking send, evicting the subscriber's oldest
// pending event when its buffer is full.
func (s *Subscriber) enqueue(event Event, logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- event:
		return
	default:
	}

	select {
	case <-s.ch:
		if logger != nil {
			logger.Warn("subscriber lagging, dropped oldest event",
				logging.String("subscriber", s.name),
				logging.String("subscriber_id", s.id.String()))
		}
	default:
	}

	select {
	case s.ch <- event:
	default:
	}
}

func (s *Subscriber) closeChannel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
