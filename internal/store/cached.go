package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/shortontech/cloakgate/internal/metrics"
)

const cacheKeyPrefix = "cloakgate:resource:"

// Lookup outcomes recorded in metrics.
const (
	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
	outcomeStale    = "stale"
)

// CachedOptions tunes a CachedStore.
type CachedOptions struct {
	TTL     time.Duration // shared cache entry lifetime
	Timeout time.Duration // per-lookup budget against the backing store
	// FailOpen serves the last resource seen for a key when the backing
	// store fails.
	FailOpen bool
}

// CachedStore puts a shared cache, request coalescing and a lookup timeout
// in front of another Store. Backend failures surface as ErrUnavailable.
type CachedStore struct {
	next    Store
	cache   Cache // may be nil
	opts    CachedOptions
	metrics *metrics.Metrics
	logger  *zap.Logger

	group singleflight.Group

	mu        sync.RWMutex
	lastKnown map[string]Resource
}

// NewCachedStore wraps next. cache and m may be nil.
func NewCachedStore(next Store, cache Cache, opts CachedOptions, m *metrics.Metrics, logger *zap.Logger) *CachedStore {
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 300 * time.Millisecond
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &CachedStore{
		next:      next,
		cache:     cache,
		opts:      opts,
		metrics:   m,
		logger:    logger.Named("store"),
		lastKnown: make(map[string]Resource),
	}
}

func (s *CachedStore) ByID(ctx context.Context, id string) (Resource, error) {
	return s.get(ctx, "id:"+id, func(ctx context.Context) (Resource, error) {
		return s.next.ByID(ctx, id)
	})
}

func (s *CachedStore) BySlug(ctx context.Context, slug string) (Resource, error) {
	return s.get(ctx, "slug:"+slug, func(ctx context.Context) (Resource, error) {
		return s.next.BySlug(ctx, slug)
	})
}

func (s *CachedStore) ByShortID(ctx context.Context, shortID string) (Resource, error) {
	return s.get(ctx, "short:"+shortID, func(ctx context.Context) (Resource, error) {
		return s.next.ByShortID(ctx, shortID)
	})
}

func (s *CachedStore) get(ctx context.Context, key string, fetch func(context.Context) (Resource, error)) (Resource, error) {
	if r, ok := s.fromCache(ctx, key); ok {
		s.metrics.IncrementPolicyLookup(outcomeHit)
		s.remember(key, r)
		return r, nil
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// detached so one caller's cancellation does not fail the others
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
		defer cancel()
		return fetch(fctx)
	})

	switch {
	case err == nil:
		r := v.(Resource)
		s.metrics.IncrementPolicyLookup(outcomeMiss)
		s.remember(key, r)
		s.toCache(ctx, key, r)
		return r, nil
	case errors.Is(err, ErrNotFound):
		s.metrics.IncrementPolicyLookup(outcomeNotFound)
		return Resource{}, ErrNotFound
	}

	s.logger.Warn("policy lookup failed", zap.String("key", key), zap.Error(err))
	if s.opts.FailOpen {
		if r, ok := s.recall(key); ok {
			s.metrics.IncrementPolicyLookup(outcomeStale)
			return r, nil
		}
	}
	s.metrics.IncrementPolicyLookup(outcomeError)
	return Resource{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *CachedStore) fromCache(ctx context.Context, key string) (Resource, bool) {
	if s.cache == nil {
		return Resource{}, false
	}
	cctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	b, err := s.cache.Get(cctx, cacheKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, errCacheMiss) {
			s.logger.Debug("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return Resource{}, false
	}
	var r Resource
	if err := json.Unmarshal(b, &r); err != nil {
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return Resource{}, false
	}
	return r, true
}

func (s *CachedStore) toCache(ctx context.Context, key string, r Resource) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()
	if err := s.cache.Set(cctx, cacheKeyPrefix+key, b, s.opts.TTL); err != nil {
		s.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *CachedStore) remember(key string, r Resource) {
	s.mu.Lock()
	s.lastKnown[key] = r
	s.mu.Unlock()
}

func (s *CachedStore) recall(key string) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.lastKnown[key]
	return r, ok
}

// Ping checks the backing store when it supports pinging.
func (s *CachedStore) Ping(ctx context.Context) error {
	if p, ok := s.next.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
