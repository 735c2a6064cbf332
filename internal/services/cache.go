package services

import (
	"context"
	"time"
)

// Cache 用户缓存，非权威数据源，写入均为幂等的字段覆盖或删除
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HSetAll(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error
	// SetFieldIfExists 仅当哈希存在时写入单个字段
	SetFieldIfExists(ctx context.Context, key, field, value string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}
