package digestcache

import (
	"context"
	"sync"

	"github.com/fedsearch/search-api/internal/domain"
	"github.com/fedsearch/search-api/internal/ports/out/digestcache"
)

// Store is an in-memory implementation of digestcache.Store.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	m  map[digestcache.Key]domain.Digest
}

func NewStore() *Store {
	return &Store{
		m: make(map[digestcache.Key]domain.Digest),
	}
}

func (s *Store) Get(ctx context.Context, key digestcache.Key) (domain.Digest, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.m[key]
	return d, ok, nil
}

func (s *Store) Put(ctx context.Context, key digestcache.Key, digest domain.Digest) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.m[key]; ok {
		if existing != digest {
			return digestcache.ErrConflict
		}
		return nil
	}
	s.m[key] = digest
	return nil
}

// Len reports the number of stored digests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}
