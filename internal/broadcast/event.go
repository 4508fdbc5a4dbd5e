// Package broadcast fans conversation events out to live subscribers.
package broadcast

import (
	"context"
	"time"
)

type Kind string

const (
	KindContainerCreated Kind = "container_created"
	KindTextAppended     Kind = "text_appended"
	KindTurnCompleted    Kind = "turn_completed"
	KindTurnFailed       Kind = "turn_failed"
)

// Event is addressed to one response within one conversation. Seq counts the
// events of a single response from zero, so a consumer can spot a gap.
type Event struct {
	Kind           Kind      `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	Target         string    `json:"target"`
	Prompt         string    `json:"prompt,omitempty"`
	Text           string    `json:"text"`
	Error          string    `json:"error,omitempty"`
	Seq            uint64    `json:"seq"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers an event to whoever is listening on a conversation.
// Publishing to a conversation with no subscribers is not an error.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, ev Event) error
}

func ContainerCreated(target, prompt string) Event {
	return Event{Kind: KindContainerCreated, Target: target, Prompt: prompt}
}

func TextAppended(target, text string) Event {
	return Event{Kind: KindTextAppended, Target: target, Text: text}
}

func TurnCompleted(target string) Event {
	return Event{Kind: KindTurnCompleted, Target: target}
}

func TurnFailed(target string, err error) Event {
	return Event{Kind: KindTurnFailed, Target: target, Error: err.Error()}
}
