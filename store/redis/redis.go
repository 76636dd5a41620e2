// Package redis keeps chat history in Redis lists, one list per
// session, with an optional TTL so stale sessions expire on their own.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ragforge/kbchat/store"
)

// ChatHistory implements store.ChatHistory on Redis.
type ChatHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.ChatHistory = (*ChatHistory)(nil)

// Options configuration for the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "kbchat:"
	TTL      time.Duration // Expiration per session, default 0 (no expiration)
}

// NewChatHistory creates a Redis-backed chat history.
func NewChatHistory(opts Options) *ChatHistory {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "kbchat:"
	}

	return &ChatHistory{
		client: client,
		prefix: prefix,
		ttl:    opts.TTL,
	}
}

// Close closes the Redis client.
func (h *ChatHistory) Close() error {
	return h.client.Close()
}

func (h *ChatHistory) sessionKey(sessionID string) string {
	return fmt.Sprintf("%shistory:%s", h.prefix, sessionID)
}

// Messages returns the session's turns oldest first.
func (h *ChatHistory) Messages(ctx context.Context, sessionID string) ([]store.Message, error) {
	raw, err := h.client.LRange(ctx, h.sessionKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history from redis: %w", err)
	}

	msgs := make([]store.Message, 0, len(raw))
	for _, item := range raw {
		var m store.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// AddUserMessage appends a human turn.
func (h *ChatHistory) AddUserMessage(ctx context.Context, sessionID, text string) error {
	return h.append(ctx, sessionID, store.RoleHuman, text)
}

// AddAIMessage appends an assistant turn.
func (h *ChatHistory) AddAIMessage(ctx context.Context, sessionID, text string) error {
	return h.append(ctx, sessionID, store.RoleAI, text)
}

func (h *ChatHistory) append(ctx context.Context, sessionID, role, text string) error {
	data, err := json.Marshal(store.Message{
		Role:      role,
		Content:   text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	key := h.sessionKey(sessionID)
	pipe := h.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if h.ttl > 0 {
		pipe.Expire(ctx, key, h.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append chat message to redis: %w", err)
	}
	return nil
}

// Clear removes all turns for the session.
func (h *ChatHistory) Clear(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, h.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear chat history: %w", err)
	}
	return nil
}
