package database

import (
	"context"
	"fmt"
	"time"

	"iam/pkg/config"
	"iam/pkg/queue"

	"github.com/go-redis/redis/v8"
)

// ConnectRedis 创建Redis客户端并检查连接，缓存与队列共用
func ConnectRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := queue.NewRedisClient(&queue.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return client, nil
}
