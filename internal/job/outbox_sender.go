package job

import (
	"context"
	"log/slog"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/metrics"
	"biblesketch/internal/model"
	"biblesketch/internal/repository"

	"gorm.io/gorm"
)

// Publisher 消息投递，生产环境是 mq.KafkaPublisher
type Publisher interface {
	Send(topic, key, value string) error
}

// OutboxSender 把余额变动事件从 outbox 表投递到 Kafka
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     Publisher
	maxRetryCount int
	metrics       *metrics.Metrics
	logger        *slog.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		maxRetryCount: cfg.Outbox.MaxRetryCount,
		metrics:       m,
		logger:        logger.With("job", "outbox_sender"),
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.ListPending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", "error", err)
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		s.metrics.ObserveOutboxPublish("sent")
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("更新消息状态失败", "id", msg.ID, "error", updateErr)
		} else {
			s.logger.Debug("消息发送成功", "id", msg.ID, "topic", msg.Topic, "key", msg.MessageKey)
		}
		return
	}

	s.metrics.ObserveOutboxPublish("error")
	s.logger.Warn("消息发送失败", "id", msg.ID, "retry_count", msg.RetryCount, "error", err)

	gaveUp, err := s.outboxRepo.RecordFailure(ctx, msg.ID, s.maxRetryCount)
	if err != nil {
		s.logger.Error("记录发送失败出错", "id", msg.ID, "error", err)
		return
	}
	if gaveUp {
		s.metrics.ObserveOutboxPublish("failed")
		s.logger.Warn("消息超过最大重试次数，标记为失败", "id", msg.ID)
	}
}
