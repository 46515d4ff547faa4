package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisManager stores guest sessions in Redis so every instance of the
// service sees the same sessions.
type RedisManager struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisManager creates a Manager over an existing Redis client.
func NewRedisManager(client *redis.Client, ttl time.Duration) *RedisManager {
	return &RedisManager{client: client, ttl: ttl}
}

func (m *RedisManager) Issue(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := m.client.Set(ctx, keyPrefix+id, 1, m.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return id, nil
}

func (m *RedisManager) Touch(ctx context.Context, id string) (bool, error) {
	ok, err := m.client.Expire(ctx, keyPrefix+id, m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to refresh session: %w", err)
	}
	return ok, nil
}
