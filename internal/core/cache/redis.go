package cache

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var lookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{Name: "user_directory_cache_lookups_total", Help: "Profile cache lookups by result"},
	[]string{"result"},
)

func init() { prometheus.MustRegister(lookups) }

type Options struct {
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration // 0 用 go-redis 默认
}

// Cache redis 读穿缓存；redis 不可用时一律回源
type Cache struct {
	rdb *redis.Client
	sf  singleflight.Group
}

func New(o Options) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:        o.Addr,
		Password:    o.Password,
		DB:          o.DB,
		DialTimeout: o.DialTimeout,
	})}
}

func (c *Cache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *Cache) Close() error { return c.rdb.Close() }

// GetOrLoad 未命中时经 singleflight 合并回源，成功结果按 ttl 回写；回写失败只计数
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) ([]byte, error)) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		lookups.WithLabelValues("hit").Inc()
		return b, nil
	case errors.Is(err, redis.Nil):
		lookups.WithLabelValues("miss").Inc()
	default:
		lookups.WithLabelValues("error").Inc()
	}

	// 回源结果由所有等待者共享，不跟随第一个调用方取消
	v, err, _ := c.sf.Do(key, func() (any, error) {
		lctx := context.WithoutCancel(ctx)
		b, e := load(lctx)
		if e != nil {
			return nil, e
		}
		if e := c.rdb.Set(lctx, key, b, ttl).Err(); e != nil {
			lookups.WithLabelValues("set_error").Inc()
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}
