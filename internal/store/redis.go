package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "chatterbox:context:"

type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects using a redis:// URL. A zero ttl keeps contexts forever.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func redisKey(conversationID string) string {
	return redisKeyPrefix + conversationID
}

func (r *Redis) Read(ctx context.Context, conversationID string) (json.RawMessage, bool, error) {
	blob, err := r.client.Get(ctx, redisKey(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("get context", err)
	}
	return json.RawMessage(blob), true, nil
}

func (r *Redis) Write(ctx context.Context, conversationID string, blob json.RawMessage) error {
	if err := r.client.Set(ctx, redisKey(conversationID), []byte(blob), r.ttl).Err(); err != nil {
		return unavailable("set context", err)
	}
	return nil
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) Close() {
	_ = r.client.Close()
}
