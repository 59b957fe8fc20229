package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// SettingsStore implements domain.SettingsStore as one Redis hash per
// namespace (usually the trading wallet address).
type SettingsStore struct {
	c   *Client
	key string
}

// NewSettingsStore creates a SettingsStore stored under settings:{namespace}.
func NewSettingsStore(c *Client, namespace string) *SettingsStore {
	return &SettingsStore{c: c, key: c.key("settings:" + namespace)}
}

// Get returns the value of field key, or domain.ErrNotFound.
func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.c.rdb.HGet(ctx, s.key, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", domain.ErrNotFound
		}
		return "", fmt.Errorf("redis: get setting %s: %w", key, err)
	}
	return v, nil
}

// Set writes a single field.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	if err := s.c.rdb.HSet(ctx, s.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis: set setting %s: %w", key, err)
	}
	return nil
}

// SetAll writes every pair in a single HSET, which Redis applies atomically.
func (s *SettingsStore) SetAll(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]any, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	if err := s.c.rdb.HSet(ctx, s.key, args...).Err(); err != nil {
		return fmt.Errorf("redis: set settings: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SettingsStore = (*SettingsStore)(nil)
