package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/chatterbox/internal/metrics"
)

var (
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrSlowSubscriber     = errors.New("subscriber fell behind")
	ErrHubClosed          = errors.New("hub closed")
)

const defaultBuffer = 256

// Hub is the process-wide registry of subscribers keyed by conversation.
// Each subscriber reads from its own FIFO queue, so every subscriber sees the
// events of a conversation in publish order. A subscriber whose queue fills
// up is disconnected rather than skipped.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*Subscription]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		rooms:  make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is one live consumer of a conversation's events.
type Subscription struct {
	hub            *Hub
	conversationID string
	events         chan Event
	err            error
	closed         bool
}

// Events is closed once the subscription ends; Err then says why.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Err() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.err
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s, ErrSubscriptionClosed)
}

// Subscribe registers a consumer. Only events published afterwards are seen.
func (h *Hub) Subscribe(conversationID string) *Subscription {
	sub := &Subscription{
		hub:            h,
		conversationID: conversationID,
		events:         make(chan Event, h.buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		sub.err = ErrHubClosed
		close(sub.events)
		return sub
	}
	room, ok := h.rooms[conversationID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[conversationID] = room
	}
	room[sub] = struct{}{}
	metrics.Subscribers.Inc()
	h.logger.Debug("subscriber joined", "conversation_id", conversationID, "subscribers", len(room))
	return sub
}

// Publish never blocks on a subscriber.
func (h *Hub) Publish(_ context.Context, conversationID string, ev Event) error {
	ev.ConversationID = conversationID

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[conversationID] {
		select {
		case sub.events <- ev:
		default:
			h.logger.Warn("dropping slow subscriber",
				"conversation_id", conversationID,
				"target", ev.Target,
			)
			metrics.SubscribersDropped.Inc()
			h.removeLocked(sub, ErrSlowSubscriber)
		}
	}
	return nil
}

// Subscribers returns the number of live subscribers for a conversation.
func (h *Hub) Subscribers(conversationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[conversationID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, room := range h.rooms {
		for sub := range room {
			h.removeLocked(sub, ErrHubClosed)
		}
	}
}

func (h *Hub) removeLocked(sub *Subscription, reason error) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.err = reason
	close(sub.events)
	metrics.Subscribers.Dec()

	room := h.rooms[sub.conversationID]
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.conversationID)
	}
}
