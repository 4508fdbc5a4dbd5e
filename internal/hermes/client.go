package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectTurnRequested carries prompts from the front end to workers.
	SubjectTurnRequested = "chatterbox.turn.requested"
	// SubjectConversationEvents matches every conversation's event subject.
	SubjectConversationEvents = "chatterbox.conversation.*.events"
	// WorkerQueue spreads turn requests across worker processes.
	WorkerQueue = "chatterbox-workers"
)

// ConversationSubject is the subject a conversation's events are published on.
func ConversationSubject(conversationID string) string {
	return "chatterbox.conversation." + conversationID + ".events"
}

// closeTimeout bounds how long Close waits for the connection to drain.
const closeTimeout = 10 * time.Second

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	closed chan struct{}
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	closed := make(chan struct{})
	opts := []nats.Option{
		nats.Name("chatterbox"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			close(closed)
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, closed: closed, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// QueueSubscribe delivers each message to one member of the queue group.
func (c *Client) QueueSubscribe(subject, queue string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject, "queue", queue)
	return nil
}

// DrainSubject stops taking new messages on subject and returns once the
// handlers for messages already received have run.
func (c *Client) DrainSubject(ctx context.Context, subject string) error {
	for _, sub := range c.subs {
		if sub.Subject != subject {
			continue
		}
		done := sub.StatusChanged(nats.SubscriptionClosed)
		if err := sub.Drain(); err != nil {
			return fmt.Errorf("drain %s: %w", subject, err)
		}
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", subject, ctx.Err())
		}
		c.logger.Info("drained", "subject", subject)
	}
	return nil
}

// Close drains every subscription and pending publish, then closes the
// connection.
func (c *Client) Close() {
	if err := c.conn.Drain(); err != nil {
		c.logger.Warn("nats drain failed", "error", err)
		c.conn.Close()
	}
	select {
	case <-c.closed:
	case <-time.After(closeTimeout):
		c.logger.Warn("nats drain timed out")
		c.conn.Close()
	}
}
