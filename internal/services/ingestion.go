package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"iam/internal/models"
	"iam/pkg/config"
	"iam/pkg/queue"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// MessageBroker 用户同步队列
type MessageBroker interface {
	Publish(ctx context.Context, body []byte) (string, error)
	Consume(ctx context.Context, timeout time.Duration) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Retry(ctx context.Context, d *queue.Delivery, reason string) error
	Quarantine(ctx context.Context, d *queue.Delivery, reason string) error
	PromoteDue(ctx context.Context) (int, error)
	RecoverOrphans(ctx context.Context, visibility time.Duration) (int, error)
	Stats(ctx context.Context) (*queue.Stats, error)
}

// Upserter 用户新增或更新
type Upserter interface {
	Upsert(ctx context.Context, c *models.UserCandidate) (int64, error)
}

// ErrInvalidMessage 投递的内容不是合法JSON
var ErrInvalidMessage = errors.New("消息内容不是合法的JSON")

// IngestionPipeline 从队列消费外部同步的用户数据。
// 处理失败的消息原样转入延时队列，到期后回到工作队列重新处理
type IngestionPipeline struct {
	broker   MessageBroker
	upserter Upserter
	cfg      config.QueueConfig
	log      *logrus.Logger

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewIngestionPipeline 创建消费管道
func NewIngestionPipeline(broker MessageBroker, upserter Upserter, cfg config.QueueConfig, log *logrus.Logger) *IngestionPipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollTimeout < time.Second {
		// BLMOVE 的最小阻塞时间为1秒
		cfg.PollTimeout = time.Second
	}
	return &IngestionPipeline{
		broker:   broker,
		upserter: upserter,
		cfg:      cfg,
		log:      log,
		cron:     cron.New(),
	}
}

// Start 启动消费者与延时消息回投、孤儿消息恢复定时任务
func (p *IngestionPipeline) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	if _, err := p.cron.AddFunc(p.cfg.PromoteSpec, func() { p.promote(ctx) }); err != nil {
		return fmt.Errorf("注册延时消息回投任务失败: %w", err)
	}
	if _, err := p.cron.AddFunc(p.cfg.RecoverSpec, func() { p.recoverOrphans(ctx) }); err != nil {
		return fmt.Errorf("注册孤儿消息恢复任务失败: %w", err)
	}
	p.cron.Start()

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.consume(ctx, i)
	}

	p.log.WithFields(logrus.Fields{
		"work_queue":  p.cfg.WorkQueue,
		"delay_queue": p.cfg.DelayQueue,
		"delay_ttl":   p.cfg.DelayTTL.String(),
		"consumers":   p.cfg.Concurrency,
	}).Info("用户同步队列已启动")
	return nil
}

// Stop 停止拉取新消息并等待处理中的消息完成
func (p *IngestionPipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.cron.Stop().Done()
	p.wg.Wait()
	p.log.Info("用户同步队列已停止")
}

// Publish 投递原始消息
func (p *IngestionPipeline) Publish(ctx context.Context, body []byte) (string, error) {
	if !json.Valid(body) {
		return "", ErrInvalidMessage
	}
	return p.broker.Publish(ctx, body)
}

// Stats 队列深度，延时队列持续增长说明下游异常
func (p *IngestionPipeline) Stats(ctx context.Context) (*queue.Stats, error) {
	return p.broker.Stats(ctx)
}

func (p *IngestionPipeline) consume(ctx context.Context, worker int) {
	defer p.wg.Done()
	log := p.log.WithField("consumer", worker)

	for ctx.Err() == nil {
		d, err := p.broker.Consume(ctx, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, queue.ErrMalformedEnvelope) {
				log.Warn(err.Error())
				continue
			}
			log.Errorf("拉取消息失败: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		// 已取出的消息在停止时也要处理完并确认
		p.Handle(context.WithoutCancel(ctx), d)
	}
}

// Handle 处理一条消息：成功则确认；失败则转入延时队列并确认，
// 失败次数达到上限时转入隔离队列
func (p *IngestionPipeline) Handle(ctx context.Context, d *queue.Delivery) {
	log := p.log.WithFields(logrus.Fields{"message_id": d.ID, "attempts": d.Attempts})

	id, err := p.process(ctx, d.Body)
	if err == nil {
		if err := p.broker.Ack(ctx, d); err != nil {
			log.Errorf("确认消息失败: %v", err)
			return
		}
		log.WithField("user_id", id).Debug("用户同步完成")
		return
	}

	if p.cfg.MaxAttempts > 0 && d.Attempts+1 >= p.cfg.MaxAttempts {
		if qerr := p.broker.Quarantine(ctx, d, err.Error()); qerr != nil {
			log.Errorf("消息转入隔离队列失败: %v", qerr)
			return
		}
		log.Errorf("用户同步多次失败，已转入隔离队列: %v", err)
		return
	}

	if rerr := p.broker.Retry(ctx, d, err.Error()); rerr != nil {
		log.Errorf("消息转入延时队列失败: %v", rerr)
		return
	}
	log.Warnf("用户同步失败，%s后重试: %v", p.cfg.DelayTTL, err)
}

func (p *IngestionPipeline) process(ctx context.Context, body []byte) (int64, error) {
	var c models.UserCandidate
	if err := json.Unmarshal(body, &c); err != nil {
		return 0, fmt.Errorf("解析用户数据失败: %w", err)
	}
	return p.upserter.Upsert(ctx, &c)
}

func (p *IngestionPipeline) promote(ctx context.Context) {
	n, err := p.broker.PromoteDue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Errorf("回投延时消息失败: %v", err)
		}
		return
	}
	if n > 0 {
		p.log.WithField("count", n).Info("延时消息已回到工作队列")
	}
}

func (p *IngestionPipeline) recoverOrphans(ctx context.Context) {
	n, err := p.broker.RecoverOrphans(ctx, p.cfg.VisibilityTimeout)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Errorf("恢复孤儿消息失败: %v", err)
		}
		return
	}
	if n > 0 {
		p.log.WithField("count", n).Warn("处理超时的消息已重新入队")
	}
}
