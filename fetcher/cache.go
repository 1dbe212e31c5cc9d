package fetcher

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// CachedProvider memoizes successful fetches by URL for the lifetime of a run.
// Failures are never cached.
type CachedProvider struct {
	next   Provider
	cache  *lru.Cache[string, string]
	logger logrus.FieldLogger
}

// NewCachedProvider wraps next with an LRU cache holding up to size pages.
func NewCachedProvider(next Provider, size int, logger logrus.FieldLogger) (*CachedProvider, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create page cache: %w", err)
	}
	return &CachedProvider{
		next:   next,
		cache:  cache,
		logger: orDiscard(logger),
	}, nil
}

// Name implements Provider.
func (c *CachedProvider) Name() string {
	return c.next.Name() + "+cache"
}

// Fetch implements Provider.
func (c *CachedProvider) Fetch(ctx context.Context, url string) (string, error) {
	if body, ok := c.cache.Get(url); ok {
		c.logger.WithField("url", url).Debug("page cache hit")
		return body, nil
	}
	body, err := c.next.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	c.cache.Add(url, body)
	return body, nil
}

// Len returns the number of cached pages.
func (c *CachedProvider) Len() int {
	return c.cache.Len()
}

// Close implements Provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.next.Close()
}
