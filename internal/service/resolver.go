package service

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/labscore-server/internal/domain"
	"github.com/labscore-server/pkg/labs"
)

// DefaultLabelCacheSize bounds the number of memoized label lookups.
const DefaultLabelCacheSize = 1000

// resolution is the cached result of one lookup, including misses.
type resolution struct {
	canonical string
	ok        bool
}

// ResolverStats reports label cache effectiveness.
type ResolverStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CachedResolver memoizes canonical lookups in an in-memory LRU. Lookups are pure
// functions of the immutable lab configuration, so entries never expire.
type CachedResolver struct {
	next   domain.LabResolver
	cache  *lru.Cache
	logger *logrus.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedResolver wraps next with an LRU of the given size (DefaultLabelCacheSize
// when size is not positive).
func NewCachedResolver(next domain.LabResolver, size int, logger *logrus.Logger) (*CachedResolver, error) {
	if size <= 0 {
		size = DefaultLabelCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create label cache: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CachedResolver{next: next, cache: cache, logger: logger}, nil
}

// FindCanonical resolves raw, consulting the cache first. Keys are normalized labels so
// spelling variants that normalize alike share an entry.
func (r *CachedResolver) FindCanonical(raw string) (string, bool) {
	key := labs.Normalize(raw)
	if cached, ok := r.cache.Get(key); ok {
		r.hits.Add(1)
		res := cached.(resolution)
		return res.canonical, res.ok
	}
	r.misses.Add(1)

	canonical, ok := r.next.FindCanonical(raw)
	r.cache.Add(key, resolution{canonical: canonical, ok: ok})
	r.logger.WithFields(logrus.Fields{
		"label":     key,
		"canonical": canonical,
		"resolved":  ok,
	}).Debug("Resolved lab label")
	return canonical, ok
}

// Stats returns the cache counters.
func (r *CachedResolver) Stats() ResolverStats {
	return ResolverStats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Size:   r.cache.Len(),
	}
}
