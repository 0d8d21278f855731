package embed

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedEngine fronts another engine with an in-process embedding cache.
// Repeated embeds of identical text (frequent for short queries) skip
// inference entirely. Entries are keyed by engine name plus text so a
// configuration change to a different engine never serves stale vectors.
type CachedEngine struct {
	inner Engine
	cache *ristretto.Cache
}

// NewCachedEngine wraps inner with a cache of roughly maxEntries vectors.
func NewCachedEngine(inner Engine, maxEntries int64) (*CachedEngine, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEngine{inner: inner, cache: cache}, nil
}

func (c *CachedEngine) Name() string                 { return c.inner.Name() }
func (c *CachedEngine) Dimensions() int              { return c.inner.Dimensions() }
func (c *CachedEngine) ResourceClass() ResourceClass { return c.inner.ResourceClass() }
func (c *CachedEngine) Available() bool              { return c.inner.Available() }

func (c *CachedEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.inner.Name() + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until pending cache writes are visible. Test helper.
func (c *CachedEngine) Wait() { c.cache.Wait() }
