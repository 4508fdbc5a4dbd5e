package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port             int
	LogLevel         string
	InferenceURL     string
	Model            string
	Temperature      float64
	PromptTemplate   string
	InferenceTimeout time.Duration
	NatsURL          string
	NatsToken        string
	DatabaseURL      string
	RedisURL         string
	ContextCacheSize int
	ContextTTL       time.Duration
	SubscriberBuffer int
}

func Load() Config {
	return Config{
		Port:             envInt("CHATTERBOX_PORT", 8780),
		LogLevel:         envStr("LOG_LEVEL", "info"),
		InferenceURL:     envStr("INFERENCE_URL", "http://localhost:11434/api/generate"),
		Model:            envStr("CHATTERBOX_MODEL", "mistral:latest"),
		Temperature:      envFloat("CHATTERBOX_TEMPERATURE", 1),
		PromptTemplate:   envStr("CHATTERBOX_PROMPT_TEMPLATE", "[INST]{prompt}[/INST]"),
		InferenceTimeout: envDuration("INFERENCE_TIMEOUT", 5*time.Minute),
		NatsURL:          envStr("NATS_URL", ""),
		NatsToken:        envStr("NATS_TOKEN", ""),
		DatabaseURL:      envStr("DATABASE_URL", ""),
		RedisURL:         envStr("REDIS_URL", ""),
		ContextCacheSize: envInt("CONTEXT_CACHE_SIZE", 10000),
		ContextTTL:       envDuration("CONTEXT_TTL", 0),
		SubscriberBuffer: envInt("SUBSCRIBER_BUFFER", 256),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
