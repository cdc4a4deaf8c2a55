package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// WithCache memoizes provider results in an expiring LRU. Repeated questions against the same
// corpus skip the provider round trip.
func WithCache(p Provider, size int, ttl time.Duration) Provider {
	if p == nil || size <= 0 || ttl <= 0 {
		return p
	}
	return &cachedProvider{
		next:  p,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type cachedProvider struct {
	next  Provider
	cache *expirable.LRU[string, []float32]
}

func (c *cachedProvider) Name() string { return c.next.Name() }

func (c *cachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.next.Name(), text)
	if cached, ok := c.cache.Get(key); ok {
		return clone(cached), nil
	}
	res, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(res))
	return res, nil
}

func cacheKey(name, text string) string {
	sum := sha256.Sum256([]byte(text))
	return name + ":" + hex.EncodeToString(sum[:])
}

func clone(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
