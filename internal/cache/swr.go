package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/defipilot/defipilot/internal/logging"
)

// SWRStore caches one expensive resource with three freshness tiers:
// fresh values are served directly, stale-but-usable values are served
// while a background refresh runs, and expired values force a synchronous
// refresh. Refreshes are coalesced so at most one runs at a time.
type SWRStore[T any] struct {
	name     string
	ttl      time.Duration
	maxStale time.Duration
	refresh  func(ctx context.Context) (T, error)

	mu        sync.Mutex
	value     T
	hasValue  bool
	fetchedAt time.Time

	group singleflight.Group
	log   *zap.SugaredLogger
	now   func() time.Time
}

type SWROption[T any] func(*SWRStore[T])

func WithSWRLogger[T any](log *zap.SugaredLogger) SWROption[T] {
	return func(s *SWRStore[T]) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSWR builds a store for one named resource. Both bounds are absolute
// ages: a value is fresh below ttl, usable-while-stale from ttl up to
// maxStale, and expired at maxStale. maxStale at or below ttl leaves no
// stale window.
func NewSWR[T any](name string, ttl, maxStale time.Duration, refresh func(ctx context.Context) (T, error), opts ...SWROption[T]) *SWRStore[T] {
	s := &SWRStore[T]{
		name:     name,
		ttl:      ttl,
		maxStale: maxStale,
		refresh:  refresh,
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the resource. Fresh values return immediately; stale values
// return immediately and kick off a background refresh whose failure is
// only logged; expired or missing values block on a refresh. forceRefresh
// always blocks on a refresh.
func (s *SWRStore[T]) Get(ctx context.Context, forceRefresh bool) (T, error) {
	s.mu.Lock()
	if s.hasValue && !forceRefresh {
		age := s.now().Sub(s.fetchedAt)
		if age < s.ttl {
			value := s.value
			s.mu.Unlock()
			return value, nil
		}
		if age < s.maxStale {
			value := s.value
			s.mu.Unlock()
			go func() {
				// Detached from the caller: a served-stale response must
				// not abort the refresh behind it.
				if _, err := s.doRefresh(context.Background()); err != nil {
					s.log.Warnw("background refresh failed", "store", s.name, "error", err)
				}
			}()
			return value, nil
		}
	}
	s.mu.Unlock()

	return s.doRefresh(ctx)
}

// Refresh forces a synchronous refresh and returns the new value.
func (s *SWRStore[T]) Refresh(ctx context.Context) (T, error) {
	return s.doRefresh(ctx)
}

// Name identifies the store in logs and warmer registration.
func (s *SWRStore[T]) Name() string {
	return s.name
}

// WarmUp refreshes and discards the value. It satisfies the warmer's
// refreshable contract.
func (s *SWRStore[T]) WarmUp(ctx context.Context) error {
	_, err := s.doRefresh(ctx)
	return err
}

// Age reports how old the cached value is, and whether one exists.
func (s *SWRStore[T]) Age() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasValue {
		return 0, false
	}
	return s.now().Sub(s.fetchedAt), true
}

func (s *SWRStore[T]) doRefresh(ctx context.Context) (T, error) {
	value, err, _ := s.group.Do("refresh", func() (any, error) {
		fetched, err := s.refresh(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.value = fetched
		s.hasValue = true
		s.fetchedAt = s.now()
		s.mu.Unlock()
		return fetched, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}
