package defcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"forge/api/internal/versioning"
)

// MemoryCache is the process-local cache used when no Redis is configured.
type MemoryCache struct {
	items *gocache.Cache
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &MemoryCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryCache) Get(_ context.Context, appID, versionID string) (versioning.Definition, bool, error) {
	value, ok := c.items.Get(key(appID, versionID))
	if !ok {
		return versioning.Definition{}, false, nil
	}
	definition, ok := value.(versioning.Definition)
	return definition, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, definition versioning.Definition) error {
	c.items.Set(key(definition.AppID, definition.VersionID), definition, gocache.DefaultExpiration)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, appID, versionID string) error {
	c.items.Delete(key(appID, versionID))
	return nil
}

// Ping always succeeds; the cache lives in this process.
func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

func (c *MemoryCache) Backend() string {
	return "memory"
}
