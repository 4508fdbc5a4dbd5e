// Package turn drives one prompt through the inference stream and out to
// conversation subscribers.
package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/MikeSquared-Agency/chatterbox/internal/broadcast"
	"github.com/MikeSquared-Agency/chatterbox/internal/inference"
	"github.com/MikeSquared-Agency/chatterbox/internal/metrics"
	"github.com/MikeSquared-Agency/chatterbox/internal/store"
)

// Streamer opens one inference stream. *inference.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, prompt string, prior json.RawMessage) (*inference.Stream, error)
}

// Outcome summarises a finished turn.
type Outcome struct {
	ResponseID string
	State      State
	Fragments  int
	Skipped    int
}

// Orchestrator runs turns. One Orchestrator serves every conversation.
type Orchestrator struct {
	streamer    Streamer
	contexts    store.ContextStore
	publisher   broadcast.Publisher
	logger      *slog.Logger
	turnTimeout time.Duration

	locks    *convLocks
	inflight conc.WaitGroup
	newID    func() string
}

type Option func(*Orchestrator)

// WithTurnTimeout bounds background turns started with StartTurn.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.turnTimeout = d }
}

func New(streamer Streamer, contexts store.ContextStore, publisher broadcast.Publisher, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		streamer:    streamer,
		contexts:    contexts,
		publisher:   publisher,
		logger:      logger,
		turnTimeout: 5 * time.Minute,
		locks:       newConvLocks(),
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartTurn runs the turn in the background and returns immediately.
func (o *Orchestrator) StartTurn(prompt, conversationID string) {
	o.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.turnTimeout)
		defer cancel()
		if _, err := o.Perform(ctx, prompt, conversationID); err != nil {
			o.logger.Error("turn failed", "conversation_id", conversationID, "error", err)
		}
	})
}

// Submit is the in-process dispatcher used by the HTTP front end.
func (o *Orchestrator) Submit(_ context.Context, prompt, conversationID string) error {
	o.StartTurn(prompt, conversationID)
	return nil
}

// Wait blocks until every turn started with StartTurn has finished.
func (o *Orchestrator) Wait() {
	if r := o.inflight.WaitAndRecover(); r != nil {
		o.logger.Error("turn panicked", "panic", r.Value, "stack", string(r.Stack))
	}
}

// turn carries the per-turn bookkeeping through Perform.
type turn struct {
	conversationID string
	responseID     string
	state          State
	seq            uint64
	started        time.Time
	logger         *slog.Logger
}

// transition moves the turn forward. A finished turn stays finished.
func (t *turn) transition(to State) {
	if t.state.Terminal() {
		t.logger.Warn("ignoring transition of finished turn", "from", t.state.String(), "to", to.String())
		return
	}
	t.logger.Debug("turn transition", "from", t.state.String(), "to", to.String())
	t.state = to
}

// Perform runs one turn to completion on the calling goroutine. Turns on the
// same conversation wait for each other.
func (o *Orchestrator) Perform(ctx context.Context, prompt, conversationID string) (Outcome, error) {
	unlock := o.locks.lock(conversationID)
	defer unlock()

	t := &turn{
		conversationID: conversationID,
		responseID:     o.newID(),
		state:          StateIdle,
		started:        time.Now(),
	}
	t.logger = o.logger.With("conversation_id", conversationID, "response_id", t.responseID)
	out := Outcome{ResponseID: t.responseID}

	prior := o.loadContext(ctx, t)
	o.publish(ctx, t, broadcast.ContainerCreated(t.responseID, prompt))
	t.transition(StateContextLoaded)

	stream, err := o.streamer.Stream(ctx, prompt, prior)
	if err != nil {
		return o.fail(ctx, t, out, fmt.Errorf("open stream: %w", err))
	}
	defer stream.Close()
	t.transition(StateStreaming)

	for {
		frag, err := stream.Next()
		if err != nil {
			var decErr *inference.DecodeError
			if errors.As(err, &decErr) {
				out.Skipped++
				metrics.DecodeErrorsTotal.Inc()
				t.logger.Warn("skipping undecodable chunk", "error", err, "chunk", string(decErr.Raw))
				continue
			}
			return o.fail(ctx, t, out, fmt.Errorf("read stream: %w", err))
		}

		if !frag.Final {
			out.Fragments++
			metrics.FragmentsTotal.Inc()
			o.publish(ctx, t, broadcast.TextAppended(t.responseID, frag.Text))
			continue
		}

		if err := o.contexts.Write(ctx, conversationID, frag.Continuation); err != nil {
			metrics.RecordStoreError("write")
			t.logger.Error("failed to save context, next turn starts fresh", "error", err)
		}
		o.publish(ctx, t, broadcast.TurnCompleted(t.responseID))
		t.transition(StateCompleted)
		out.State = StateCompleted
		metrics.RecordTurn("completed", time.Since(t.started).Seconds())
		t.logger.Info("turn completed", "fragments", out.Fragments, "skipped", out.Skipped)
		return out, nil
	}
}

// loadContext degrades to a stateless turn when the store is unavailable.
func (o *Orchestrator) loadContext(ctx context.Context, t *turn) json.RawMessage {
	prior, ok, err := o.contexts.Read(ctx, t.conversationID)
	if err != nil {
		metrics.RecordStoreError("read")
		t.logger.Warn("context read failed, continuing without memory", "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	return prior
}

// fail ends the turn without touching the stored context. Text already
// published stays with the subscribers.
func (o *Orchestrator) fail(ctx context.Context, t *turn, out Outcome, err error) (Outcome, error) {
	t.transition(StateFailed)
	out.State = StateFailed
	metrics.RecordTurn("failed", time.Since(t.started).Seconds())

	// The turn context may be the thing that expired.
	pubCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	o.publish(pubCtx, t, broadcast.TurnFailed(t.responseID, err))
	return out, err
}

func (o *Orchestrator) publish(ctx context.Context, t *turn, ev broadcast.Event) {
	ev.Seq = t.seq
	ev.Timestamp = time.Now().UTC()
	t.seq++
	if err := o.publisher.Publish(ctx, t.conversationID, ev); err != nil {
		t.logger.Warn("publish failed", "kind", string(ev.Kind), "error", err)
	}
}
