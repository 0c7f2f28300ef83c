// Package session persists the in-progress RegistrationAnswers between
// wizard requests, keyed by an opaque session identifier.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no answers exist for the session key.
var ErrNotFound = errors.New("session not found")

// Store is the session collaborator consumed by the wizard.
type Store interface {
	Get(ctx context.Context, key string) (model.Answers, error)
	Set(ctx context.Context, key string, answers model.Answers) error
	Clear(ctx context.Context, key string) error
}

// RedisStore keeps answers as JSON blobs in Redis with a sliding TTL so
// abandoned sessions expire on their own.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) key(key string) string {
	return "wizard:session:" + key
}

func (s *RedisStore) Get(ctx context.Context, key string) (model.Answers, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var answers model.Answers
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return answers, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, answers model.Answers) error {
	data, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
