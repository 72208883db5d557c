package cache

import (
	"context"
	"time"

	"user-directory/internal/domain"
)

const profileKeyPrefix = "userdir:profile:"

// ProfileCache getByLogin 投影的读穿缓存，key 按 login
type ProfileCache struct {
	c   *Cache
	ttl time.Duration
}

func NewProfileCache(c *Cache, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ProfileCache{c: c, ttl: ttl}
}

func ProfileKey(login string) string { return profileKeyPrefix + login }

func (p *ProfileCache) Profile(ctx context.Context, login string, load func(ctx context.Context) (*domain.Profile, error)) (*domain.Profile, error) {
	return loadJSON(ctx, p.c, ProfileKey(login), p.ttl, load)
}

func (p *ProfileCache) Forget(ctx context.Context, logins ...string) error {
	keys := make([]string, 0, len(logins))
	for _, l := range logins {
		keys = append(keys, ProfileKey(l))
	}
	return p.c.Del(ctx, keys...)
}
