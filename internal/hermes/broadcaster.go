package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/chatterbox/internal/broadcast"
)

type publisher interface {
	Publish(subject string, data any) error
}

type subscriber interface {
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// Broadcaster publishes conversation events on NATS so any process can serve
// the subscribers. It implements broadcast.Publisher.
type Broadcaster struct {
	nats publisher
}

func NewBroadcaster(p publisher) *Broadcaster {
	return &Broadcaster{nats: p}
}

func (b *Broadcaster) Publish(_ context.Context, conversationID string, ev broadcast.Event) error {
	ev.ConversationID = conversationID
	if err := b.nats.Publish(ConversationSubject(conversationID), ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Relay feeds events from NATS into the local hub.
type Relay struct {
	hub    broadcast.Publisher
	logger *slog.Logger
}

func NewRelay(hub broadcast.Publisher, logger *slog.Logger) *Relay {
	return &Relay{hub: hub, logger: logger}
}

// Start subscribes to every conversation's events.
func (r *Relay) Start(s subscriber) error {
	return s.Subscribe(SubjectConversationEvents, r.HandleEvent)
}

// HandleEvent is the NATS handler for chatterbox.conversation.*.events.
func (r *Relay) HandleEvent(subject string, data []byte) {
	var ev broadcast.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Error("failed to parse conversation event", "subject", subject, "error", err)
		return
	}
	if ev.ConversationID == "" {
		r.logger.Warn("conversation event without conversation id", "subject", subject)
		return
	}
	_ = r.hub.Publish(context.Background(), ev.ConversationID, ev)
}
