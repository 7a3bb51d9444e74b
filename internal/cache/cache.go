// Package cache provides a key/value store with per-entry TTL.
//
// Two implementations satisfy Cache: LocalCache keeps entries in process
// memory with lazy expiry plus a background sweep, RedisCache delegates to a
// Redis server and relies on its native key expiry. Which one is used is a
// configuration decision made in New.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"crawler_nexus/internal/shared/types"
)

const (
	TypeMemory = "memory"
	TypeRedis  = "redis"

	// DefaultCronInterval 本地缓存默认的过期清理间隔
	DefaultCronInterval = 10 * time.Second
)

// Cache 是缓存的统一接口。
//
// Get 对已过期的条目返回 absent (ok == false)，未命中不是错误。
// Set 无条件覆盖并从调用时刻重新计算 TTL；ttl <= 0 等同于删除。
// Keys 中 "*" 返回全部存活的 key。
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// New 根据配置创建缓存实例。本地缓存的清理协程在返回前已启动，
// 调用方负责 Close。
func New(cacheConf types.CacheConf, redisConf types.RedisConf) (Cache, error) {
	switch cacheConf.Type {
	case "", TypeMemory:
		interval := time.Duration(cacheConf.CronIntervalSeconds) * time.Second
		c := NewLocalCache(interval)
		c.Start()
		return c, nil
	case TypeRedis:
		if redisConf.Host == "" {
			return nil, ErrEmptyAddress
		}
		return NewRedisCache(RedisOptions{
			Addr:     redisConf.Host + ":" + strconv.Itoa(redisConf.Port),
			Password: redisConf.Password,
			DB:       redisConf.DB,
		})
	default:
		return nil, fmt.Errorf("unknown cache type %q", cacheConf.Type)
	}
}
