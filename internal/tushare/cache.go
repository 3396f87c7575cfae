package tushare

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// CachedQuerier memoizes provider queries by CacheKey for the lifetime of a
// run. Concurrent callers asking for the same missing key share a single
// upstream call. Failed calls are not cached.
type CachedQuerier struct {
	next  Querier
	store tableStore
	group singleflight.Group

	calls    atomic.Int64
	upstream atomic.Int64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// NewCachedQuerier wraps next. size > 0 bounds the cache to that many
// entries with LRU eviction; size <= 0 keeps every entry.
func NewCachedQuerier(next Querier, size int) (*CachedQuerier, error) {
	var ts tableStore
	if size > 0 {
		c, err := lru.New[string, *Table](size)
		if err != nil {
			return nil, err
		}
		ts = lruStore{c}
	} else {
		ts = &mapStore{m: make(map[string]*Table)}
	}
	return &CachedQuerier{next: next, store: ts}, nil
}

// Query implements Querier.
func (c *CachedQuerier) Query(ctx context.Context, api string, params Params) (*Table, error) {
	c.calls.Add(1)
	key := CacheKey(api, params)
	if t, ok := c.store.Get(key); ok {
		return t, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if t, ok := c.store.Get(key); ok {
			return t, nil
		}
		c.upstream.Add(1)
		t, err := c.next.Query(ctx, api, params)
		if err != nil {
			return nil, err
		}
		c.store.Add(key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// Stats returns the number of calls answered without and with an upstream
// request.
func (c *CachedQuerier) Stats() CacheStats {
	up := c.upstream.Load()
	return CacheStats{Hits: c.calls.Load() - up, Misses: up}
}

type tableStore interface {
	Get(key string) (*Table, bool)
	Add(key string, t *Table)
}

type lruStore struct {
	c *lru.Cache[string, *Table]
}

func (s lruStore) Get(key string) (*Table, bool) { return s.c.Get(key) }
func (s lruStore) Add(key string, t *Table)      { s.c.Add(key, t) }

type mapStore struct {
	mu sync.RWMutex
	m  map[string]*Table
}

func (s *mapStore) Get(key string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.m[key]
	return t, ok
}

func (s *mapStore) Add(key string, t *Table) {
	s.mu.Lock()
	s.m[key] = t
	s.mu.Unlock()
}
