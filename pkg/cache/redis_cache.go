package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// 仅当哈希已存在时写入单个字段，避免为冷数据创建残缺的缓存
var setFieldIfExistsScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
	return 1
end
return 0
`)

// RedisCache 用户缓存的Redis实现
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache 创建缓存客户端
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get 读取字符串键，不存在时 found 为 false
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("读取缓存 %s 失败: %w", key, err)
	}
	return val, true, nil
}

// Set 写入字符串键
func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("写入缓存 %s 失败: %w", key, err)
	}
	return nil
}

// HGetAll 读取整个哈希，不存在时返回空map
func (c *RedisCache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("读取缓存 %s 失败: %w", key, err)
	}
	return fields, nil
}

// HSetAll 整体写入哈希并设置过期时间
func (c *RedisCache) HSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	values := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, values)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("写入缓存 %s 失败: %w", key, err)
	}
	return nil
}

// SetFieldIfExists 哈希存在时更新单个字段，返回是否写入
func (c *RedisCache) SetFieldIfExists(ctx context.Context, key, field, value string) (bool, error) {
	n, err := setFieldIfExistsScript.Run(ctx, c.client, []string{key}, field, value).Int()
	if err != nil {
		return false, fmt.Errorf("更新缓存 %s.%s 失败: %w", key, field, err)
	}
	return n == 1, nil
}

// Delete 删除键，不存在的键忽略
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("删除缓存失败: %w", err)
	}
	return nil
}

// Exists 键是否存在
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("查询缓存 %s 失败: %w", key, err)
	}
	return n > 0, nil
}
