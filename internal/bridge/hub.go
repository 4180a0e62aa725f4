package bridge

import (
	"sync"

	"convert-web/internal/logging"
	"convert-web/internal/metrics"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 1024

// Hub fans worker responses out to every subscriber. Like a browser
// broadcast channel, every subscriber sees every message and must filter by
// id or operationId itself.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
}

// Subscription receives broadcast messages on C until it is cancelled.
type Subscription struct {
	C    <-chan Message
	ch   chan Message
	hub  *Hub
	once sync.Once
}

// NewHub creates a hub whose subscribers buffer up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new listener.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Message, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	metrics.BridgeSubscribers.Set(float64(count))
	return sub
}

// Cancel unregisters the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		delete(h.subs, s)
		count := len(h.subs)
		close(s.ch)
		h.mu.Unlock()

		metrics.BridgeSubscribers.Set(float64(count))
	})
}

// Publish delivers msg to every subscriber without blocking. A subscriber
// whose queue is full misses the message.
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			metrics.BridgeBroadcastDropped.Inc()
			logging.Warn("Broadcast subscriber queue full, dropped %s for id=%q op=%q",
				msg.Action, msg.ID, msg.OperationID)
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
