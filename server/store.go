package server

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	"auto_news_interviewer/generator"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore keeps sessions between requests. Callers hold the session's
// lock around Load and Save.
type SessionStore interface {
	Load(ctx context.Context, id string) (*generator.Session, error)
	Save(ctx context.Context, s *generator.Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process. Sessions untouched for ttl are dropped.
type MemoryStore struct {
	cache *cache.Cache
}

// NewMemoryStore with ttl <= 0 keeps sessions until they are deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cleanup := 10 * time.Minute
	if ttl <= 0 {
		ttl = cache.NoExpiration
	} else if ttl < cleanup {
		cleanup = ttl
	}
	return &MemoryStore{cache: cache.New(ttl, cleanup)}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*generator.Session, error) {
	if x, found := m.cache.Get(id); found {
		return x.(*generator.Session), nil
	}
	return nil, ErrSessionNotFound
}

// Save also refreshes the idle timeout.
func (m *MemoryStore) Save(_ context.Context, s *generator.Session) error {
	m.cache.Set(s.ID, s, cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	if _, found := m.cache.Get(id); !found {
		return ErrSessionNotFound
	}
	m.cache.Delete(id)
	return nil
}
