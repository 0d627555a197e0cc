// Package redis implements the short-lived key/value store on go-redis.
// It backs two concerns kept apart by key prefix: the session token
// allow-list and the search-result cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore is a TTL'd key/value store with a fixed key prefix.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore creates a store whose keys live under the given prefix.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(k string) string {
	return fmt.Sprintf("%s:%s", s.prefix, k)
}

// Set stores value under key for ttl.
func (s *SessionStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Get returns the stored value. The second return is false when the key is
// missing or expired.
func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return val, true, nil
}

// Exists reports whether the key is present and unexpired.
func (s *SessionStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes the key. Deleting a missing key is not an error.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
