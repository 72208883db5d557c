package cache

import (
	"context"
	"encoding/json"
	"time"
)

// loadJSON 值按 JSON 存；load 出错不写缓存，缓存里的脏数据直接回源
func loadJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (*T, error)) (*T, error) {
	b, err := c.GetOrLoad(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return load(ctx)
	}
	return out, nil
}
