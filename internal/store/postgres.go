package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the slice of *pgxpool.Pool the store uses.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type Postgres struct {
	pool pgxPool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the context table if it is missing. Contexts are kept
// as bytea so the backend's bytes round-trip untouched.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversation_contexts (
			conversation_id text PRIMARY KEY,
			context         bytea NOT NULL,
			updated_at      timestamptz NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("create conversation_contexts: %w", err)
	}
	return nil
}

func (s *Postgres) Read(ctx context.Context, conversationID string) (json.RawMessage, bool, error) {
	var blob []byte
	err := s.pool.QueryRow(ctx, `
		SELECT context FROM conversation_contexts WHERE conversation_id = $1`,
		conversationID,
	).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("select context", err)
	}
	return json.RawMessage(blob), true, nil
}

func (s *Postgres) Write(ctx context.Context, conversationID string, blob json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conversation_contexts (conversation_id, context, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (conversation_id)
		DO UPDATE SET context = EXCLUDED.context, updated_at = EXCLUDED.updated_at`,
		conversationID, []byte(blob),
	)
	if err != nil {
		return unavailable("upsert context", err)
	}
	return nil
}

func (s *Postgres) Name() string { return "postgres" }

func (s *Postgres) Close() {
	s.pool.Close()
}
