// Package cache holds the in-memory caching discipline: a keyed TTL cache
// with in-flight request coalescing and bounded growth, and a
// stale-while-revalidate store for single expensive resources. Both are
// constructed services rather than module globals so tests get isolated
// instances.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	pilerr "github.com/defipilot/defipilot/internal/errors"
)

type entry struct {
	value    any
	storedAt time.Time
}

// Service is a per-key TTL cache. Concurrent fetches for the same key are
// coalesced into one upstream call; once the cache exceeds its bound the
// oldest-inserted entries are evicted (insertion order, not LRU).
type Service struct {
	mu      sync.Mutex
	entries map[string]entry
	order   []string
	group   singleflight.Group
	now     func() time.Time
}

func NewService() *Service {
	return &Service{
		entries: map[string]entry{},
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key when it is younger than ttl,
// otherwise fetches it. At most one fetch per key is ever in flight;
// concurrent callers share its outcome. Failures are not cached.
func (s *Service) GetOrFetch(ctx context.Context, key string, ttl time.Duration, maxEntries int, fetcher func(ctx context.Context) (any, error)) (any, error) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok && s.now().Sub(e.storedAt) < ttl {
		s.mu.Unlock()
		return e.value, nil
	}
	s.mu.Unlock()

	value, err, _ := s.group.Do(key, func() (any, error) {
		fetched, err := fetcher(ctx)
		if err != nil {
			return nil, err
		}
		s.store(key, fetched, maxEntries)
		return fetched, nil
	})
	return value, err
}

// Len reports the number of cached entries.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Has reports whether key is present, regardless of freshness.
func (s *Service) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

func (s *Service) store(key string, value any, maxEntries int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		s.order = append(s.order, key)
	}
	s.entries[key] = entry{value: value, storedAt: s.now()}

	if maxEntries <= 0 {
		return
	}
	for len(s.order) > maxEntries {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

// GetOrFetch is the typed convenience wrapper around Service.GetOrFetch.
// A cached value of another type means two callers share a key; that is a
// bug at the call site and surfaces as an error rather than a zero value.
func GetOrFetch[T any](ctx context.Context, s *Service, key string, ttl time.Duration, maxEntries int, fetcher func(ctx context.Context) (T, error)) (T, error) {
	value, err := s.GetOrFetch(ctx, key, ttl, maxEntries, func(ctx context.Context) (any, error) {
		return fetcher(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, pilerr.New(pilerr.CodeInternal, fmt.Sprintf("cache entry for %q holds %T, want %T", key, value, zero))
	}
	return typed, nil
}
