package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Config Redis连接配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Options 队列拓扑配置
type Options struct {
	Prefix     string
	WorkQueue  string        // 工作队列
	DelayQueue string        // 延时队列，消息到期后回到工作队列
	DelayTTL   time.Duration // 延时队列消息存活时间
}

// Envelope 队列中的消息，Body 为生产者投递的原始内容，重试期间保持不变
type Envelope struct {
	ID          string `json:"id"`
	Body        []byte `json:"body"`
	Attempts    int    `json:"attempts"`
	PublishedAt int64  `json:"published_at"`
	LastError   string `json:"last_error,omitempty"`
}

// Delivery 一次投递，ack 前保存在处理中队列
type Delivery struct {
	Envelope
	raw string
}

// Stats 各队列深度
type Stats struct {
	Work        int64 `json:"work"`
	Processing  int64 `json:"processing"`
	Delayed     int64 `json:"delayed"`
	Quarantined int64 `json:"quarantined"`
}

// ErrMalformedEnvelope 无法解析的消息，已转入隔离队列
var ErrMalformedEnvelope = errors.New("消息格式错误，已转入隔离队列")

// 到期消息批量回投工作队列
var promoteScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, item in ipairs(items) do
	redis.call('ZREM', KEYS[1], item)
	redis.call('LPUSH', KEYS[2], item)
end
return #items
`)

const promoteBatch = 100

// 孤儿消息放回工作队列，消息已被确认（不在处理中队列）时不做任何操作
var requeueScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[2])
return 1
`)

// RedisBroker 基于Redis的持久化工作队列与延时重投队列
type RedisBroker struct {
	client     *redis.Client
	work       string
	processing string
	since      string
	delay      string
	quarantine string
	ttl        time.Duration
	now        func() time.Time
}

// NewRedisClient 创建Redis客户端
func NewRedisClient(config *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})
}

// NewRedisBroker 创建队列实例
func NewRedisBroker(client *redis.Client, opts Options) *RedisBroker {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "iam:queue"
	}
	work := fmt.Sprintf("%s:%s", prefix, opts.WorkQueue)

	return &RedisBroker{
		client:     client,
		work:       work,
		processing: work + ":processing",
		since:      work + ":processing:since",
		delay:      fmt.Sprintf("%s:%s", prefix, opts.DelayQueue),
		quarantine: work + ":quarantine",
		ttl:        opts.DelayTTL,
		now:        time.Now,
	}
}

// SetClock 替换时钟，测试用
func (q *RedisBroker) SetClock(now func() time.Time) {
	q.now = now
}

// Ping 测试Redis连接
func (q *RedisBroker) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Publish 投递消息到工作队列
func (q *RedisBroker) Publish(ctx context.Context, body []byte) (string, error) {
	env := Envelope{
		ID:          uuid.NewString(),
		Body:        body,
		PublishedAt: q.now().Unix(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("序列化消息失败: %w", err)
	}

	if err := q.client.LPush(ctx, q.work, data).Err(); err != nil {
		return "", fmt.Errorf("消息入队失败: %w", err)
	}
	return env.ID, nil
}

// Consume 阻塞获取一条消息，使用BLMOVE移入处理中队列，Worker崩溃时消息不会丢失。
// 队列为空时返回 nil, nil
func (q *RedisBroker) Consume(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.work, q.processing, "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取消息失败: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil || env.ID == "" {
		_, qerr := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, raw)
			pipe.LPush(ctx, q.quarantine, raw)
			return nil
		})
		if qerr != nil {
			return nil, fmt.Errorf("隔离错误消息失败: %w", qerr)
		}
		return nil, ErrMalformedEnvelope
	}

	if err := q.client.HSet(ctx, q.since, env.ID, q.now().UnixMilli()).Err(); err != nil {
		return nil, fmt.Errorf("记录消息处理时间失败: %w", err)
	}

	return &Delivery{Envelope: env, raw: raw}, nil
}

// Ack 确认消息，从处理中队列永久移除
func (q *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.HDel(ctx, q.since, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("确认消息失败: %w", err)
	}
	return nil
}

// Retry 将消息投递到延时队列并确认原消息，两步在同一事务中完成
func (q *RedisBroker) Retry(ctx context.Context, d *Delivery, reason string) error {
	next := d.Envelope
	next.Attempts++
	next.LastError = reason
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	due := q.now().Add(q.ttl).UnixMilli()
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.delay, &redis.Z{Score: float64(due), Member: string(data)})
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.HDel(ctx, q.since, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("消息转入延时队列失败: %w", err)
	}
	return nil
}

// Quarantine 将多次失败的消息转入隔离队列，等待人工处理
func (q *RedisBroker) Quarantine(ctx context.Context, d *Delivery, reason string) error {
	next := d.Envelope
	next.Attempts++
	next.LastError = reason
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %w", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.quarantine, data)
		pipe.LRem(ctx, q.processing, 1, d.raw)
		pipe.HDel(ctx, q.since, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("消息转入隔离队列失败: %w", err)
	}
	return nil
}

// PromoteDue 将已到期的延时消息回投工作队列，返回回投数量
func (q *RedisBroker) PromoteDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(q.now().UnixMilli(), 10)
	moved := 0
	for {
		n, err := promoteScript.Run(ctx, q.client, []string{q.delay, q.work}, now, promoteBatch).Int()
		if err != nil {
			return moved, fmt.Errorf("回投延时消息失败: %w", err)
		}
		moved += n
		if n < promoteBatch {
			return moved, nil
		}
	}
}

// RecoverOrphans 将处理超时的消息放回工作队列头部，返回恢复数量
func (q *RedisBroker) RecoverOrphans(ctx context.Context, visibility time.Duration) (int, error) {
	items, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("获取处理中消息失败: %w", err)
	}

	now := q.now().UnixMilli()
	recovered := 0
	for _, raw := range items {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil || env.ID == "" {
			continue
		}

		sinceStr, err := q.client.HGet(ctx, q.since, env.ID).Result()
		if errors.Is(err, redis.Nil) {
			// Worker在记录处理时间前崩溃，从现在开始计时
			if err := q.client.HSetNX(ctx, q.since, env.ID, now).Err(); err != nil {
				return recovered, fmt.Errorf("记录消息处理时间失败: %w", err)
			}
			continue
		}
		if err != nil {
			return recovered, fmt.Errorf("获取消息处理时间失败: %w", err)
		}

		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || now-since <= visibility.Milliseconds() {
			continue
		}

		ok, err := q.requeue(ctx, raw, env.ID)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}

	return recovered, nil
}

// requeue 仅当消息仍在处理中队列时放回工作队列
func (q *RedisBroker) requeue(ctx context.Context, raw, id string) (bool, error) {
	n, err := requeueScript.Run(ctx, q.client, []string{q.processing, q.work, q.since}, raw, id).Int()
	if err != nil {
		return false, fmt.Errorf("恢复孤儿消息失败: %w", err)
	}
	return n == 1, nil
}

// Stats 获取队列深度，延时队列深度是下游异常的健康信号
func (q *RedisBroker) Stats(ctx context.Context) (*Stats, error) {
	pipe := q.client.Pipeline()
	work := pipe.LLen(ctx, q.work)
	processing := pipe.LLen(ctx, q.processing)
	delayed := pipe.ZCard(ctx, q.delay)
	quarantined := pipe.LLen(ctx, q.quarantine)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("获取队列长度失败: %w", err)
	}

	return &Stats{
		Work:        work.Val(),
		Processing:  processing.Val(),
		Delayed:     delayed.Val(),
		Quarantined: quarantined.Val(),
	}, nil
}
