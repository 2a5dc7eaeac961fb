package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"licensegate/backend/internal/domain"
)

// ErrCacheMiss 缓存未命中错误
var ErrCacheMiss = errors.New("license not found in cache")

// Cache Redis 缓存实现
//
// 承担两类职责：许可证记录的读穿缓存（短 TTL + 变更失效），
// 以及公共激活接口的限流计数器。
type Cache struct {
	client *goredis.Client
}

// NewCache 创建 Redis 缓存实例
func NewCache(addr, password string, db int) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 测试连接
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// ========== 许可证缓存 ==========

func licenseCacheKey(key string) string {
	return fmt.Sprintf("license:%s", key)
}

// CacheLicense 缓存许可证记录
func (c *Cache) CacheLicense(ctx context.Context, record *domain.LicenseRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, licenseCacheKey(record.Key), data, ttl).Err()
}

// GetCachedLicense 获取缓存的许可证记录
func (c *Cache) GetCachedLicense(ctx context.Context, key string) (*domain.LicenseRecord, error) {
	data, err := c.client.Get(ctx, licenseCacheKey(key)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var record domain.LicenseRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// DeleteCachedLicense 删除缓存的许可证记录
//
// 每次许可证变更（绑定、吊销、重置、备注）后必须调用，
// 避免后续读取命中过期状态。
func (c *Cache) DeleteCachedLicense(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, len(keys))
	for i, key := range keys {
		cacheKeys[i] = licenseCacheKey(key)
	}
	return c.client.Del(ctx, cacheKeys...).Err()
}

// ========== 限流计数 ==========

// IncrementRateLimit 增加限流计数
func (c *Cache) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.Pipeline()

	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetRateLimit 获取限流计数
func (c *Cache) GetRateLimit(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *Cache) Close() error {
	return c.client.Close()
}
