// Package store keeps the opaque continuation context of each conversation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrUnavailable wraps every backend failure so callers can degrade uniformly.
var ErrUnavailable = errors.New("context store unavailable")

// ContextStore holds at most one continuation blob per conversation.
// Blobs are never inspected.
type ContextStore interface {
	Read(ctx context.Context, conversationID string) (json.RawMessage, bool, error)
	Write(ctx context.Context, conversationID string, blob json.RawMessage) error
}

// Backend is a ContextStore owned by the process.
type Backend interface {
	ContextStore
	Name() string
	Close()
}

type Options struct {
	DatabaseURL string
	RedisURL    string
	CacheSize   int
	TTL         time.Duration
}

// Open picks Postgres, then Redis, then the in-memory store, in that order.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Backend, error) {
	switch {
	case opts.DatabaseURL != "":
		pg, err := NewPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case opts.RedisURL != "":
		rd, err := NewRedis(ctx, opts.RedisURL, opts.TTL)
		if err != nil {
			return nil, err
		}
		return rd, nil
	default:
		logger.Warn("no shared context store configured, conversation memory is process-local")
		mem, err := NewMemory(opts.CacheSize)
		if err != nil {
			return nil, err
		}
		return mem, nil
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
