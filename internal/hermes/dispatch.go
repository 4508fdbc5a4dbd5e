package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TurnRequest asks a worker to run one turn.
type TurnRequest struct {
	ConversationID string    `json:"conversation_id"`
	Prompt         string    `json:"prompt"`
	RequestedAt    time.Time `json:"requested_at"`
}

// Dispatcher hands prompts to whichever worker picks them up.
type Dispatcher struct {
	nats publisher
}

func NewDispatcher(p publisher) *Dispatcher {
	return &Dispatcher{nats: p}
}

func (d *Dispatcher) Submit(_ context.Context, prompt, conversationID string) error {
	req := TurnRequest{
		ConversationID: conversationID,
		Prompt:         prompt,
		RequestedAt:    time.Now().UTC(),
	}
	if err := d.nats.Publish(SubjectTurnRequested, req); err != nil {
		return fmt.Errorf("dispatch turn: %w", err)
	}
	return nil
}

// TurnStarter runs turns in the background. Wait blocks until every started
// turn has finished.
type TurnStarter interface {
	StartTurn(prompt, conversationID string)
	Wait()
}

type queueSubscriber interface {
	QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error
	DrainSubject(ctx context.Context, subject string) error
}

// TurnHandler is the worker side of the Dispatcher.
type TurnHandler struct {
	starter TurnStarter
	nats    queueSubscriber
	logger  *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

func NewTurnHandler(starter TurnStarter, logger *slog.Logger) *TurnHandler {
	return &TurnHandler{starter: starter, logger: logger}
}

// Listen joins the worker queue group for turn requests.
func (h *TurnHandler) Listen(s queueSubscriber) error {
	if err := s.QueueSubscribe(SubjectTurnRequested, WorkerQueue, h.HandleTurnRequested); err != nil {
		return err
	}
	h.nats = s
	return nil
}

// Shutdown stops taking turn requests, lets requests already delivered start
// their turns, then waits for every turn to finish.
func (h *TurnHandler) Shutdown(ctx context.Context) error {
	var err error
	if h.nats != nil {
		err = h.nats.DrainSubject(ctx, SubjectTurnRequested)
	}
	// Requests still arriving after a failed drain are dropped so no turn
	// starts once Wait is running.
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.starter.Wait()
	return err
}

// HandleTurnRequested is the NATS handler for chatterbox.turn.requested.
func (h *TurnHandler) HandleTurnRequested(subject string, data []byte) {
	var req TurnRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Error("failed to parse turn request", "error", err)
		return
	}
	if err := req.validate(); err != nil {
		h.logger.Error("invalid turn request", "error", err)
		return
	}

	h.logger.Info("turn requested",
		"conversation_id", req.ConversationID,
		"queued_for", time.Since(req.RequestedAt).String(),
	)
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		h.logger.Warn("dropping turn request during shutdown", "conversation_id", req.ConversationID)
		return
	}
	h.starter.StartTurn(req.Prompt, req.ConversationID)
}

func (r TurnRequest) validate() error {
	if r.ConversationID == "" {
		return errors.New("missing conversation_id")
	}
	if r.Prompt == "" {
		return errors.New("missing prompt")
	}
	return nil
}
