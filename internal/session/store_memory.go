package session

import (
	"context"
	"sync"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
)

// MemoryStore is an in-process Store used by unit tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]model.Answers
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]model.Answers)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (model.Answers, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	answers, ok := s.sessions[key]
	if !ok {
		return nil, ErrNotFound
	}
	return answers.Clone(), nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, answers model.Answers) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = answers.Clone()
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, key)
	return nil
}
