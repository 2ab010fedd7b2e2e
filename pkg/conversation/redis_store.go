package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps conversation state in Redis; the key TTL is the idle timeout.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed conversation store.
func NewRedisStore(addr, password, prefix string, ttl time.Duration) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "litshelf:conv"
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Get returns the state for userID, or idle when absent or expired.
func (s *RedisStore) Get(ctx context.Context, userID int64) (State, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	raw, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Idle(), nil
	}
	if err != nil {
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("decode conversation: %w", err)
	}
	return state, nil
}

// Put writes state with the idle TTL. Idle states delete the key.
func (s *RedisStore) Put(ctx context.Context, userID int64, state State) error {
	if state.IsIdle() {
		return s.Clear(ctx, userID)
	}
	state.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key(userID), raw, s.ttl).Err()
}

// Clear removes the state for userID.
func (s *RedisStore) Clear(ctx context.Context, userID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(userID int64) string {
	return fmt.Sprintf("%s:%d", s.prefix, userID)
}
