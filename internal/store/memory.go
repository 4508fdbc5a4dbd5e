package store

import (
	"context"
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memory is a bounded process-local store. Past capacity the least recently
// used conversation loses its context.
type Memory struct {
	cache *lru.Cache[string, json.RawMessage]
}

func NewMemory(size int) (*Memory, error) {
	cache, err := lru.New[string, json.RawMessage](size)
	if err != nil {
		return nil, fmt.Errorf("create context cache: %w", err)
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Read(_ context.Context, conversationID string) (json.RawMessage, bool, error) {
	blob, ok := m.cache.Get(conversationID)
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), blob...), true, nil
}

func (m *Memory) Write(_ context.Context, conversationID string, blob json.RawMessage) error {
	m.cache.Add(conversationID, append(json.RawMessage(nil), blob...))
	return nil
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Close() {}
