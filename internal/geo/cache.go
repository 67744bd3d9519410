package geo

import (
	"context"
	"sync"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/singleflight"

	"github.com/lox/crimedash/internal/metrics"
)

// BoundarySource fetches a boundary FeatureCollection by URL
type BoundarySource interface {
	FetchBoundaries(ctx context.Context, url string) (*geojson.FeatureCollection, error)
}

// BoundaryCache keeps boundary collections for the life of the process.
// Entries are never invalidated; failed fetches are not cached.
type BoundaryCache struct {
	src   BoundarySource
	group singleflight.Group

	mu    sync.RWMutex
	items map[string]*geojson.FeatureCollection
}

// NewBoundaryCache wraps src with a per-URL cache
func NewBoundaryCache(src BoundarySource) *BoundaryCache {
	return &BoundaryCache{
		src:   src,
		items: make(map[string]*geojson.FeatureCollection),
	}
}

// Get returns the collection for url, fetching it on first use.
// Concurrent callers for the same url share one fetch, which is detached
// from any single caller's cancellation; each caller still returns when its
// own ctx is done.
func (c *BoundaryCache) Get(ctx context.Context, url string) (*geojson.FeatureCollection, error) {
	c.mu.RLock()
	fc, ok := c.items[url]
	c.mu.RUnlock()
	if ok {
		metrics.BoundaryCacheTotal.WithLabelValues("hit").Inc()
		return fc, nil
	}

	metrics.BoundaryCacheTotal.WithLabelValues("miss").Inc()
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(url, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.items[url]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		fetched, err := c.src.FetchBoundaries(fetchCtx, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[url] = fetched
		c.mu.Unlock()
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*geojson.FeatureCollection), nil
	}
}

// Len returns the number of cached collections
func (c *BoundaryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
