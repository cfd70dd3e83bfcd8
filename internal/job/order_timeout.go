package job

import (
	"context"
	"log/slog"
	"time"

	"biblesketch/internal/service"
)

// OrderTimeoutJob 定时关闭超时未支付的购买订单
type OrderTimeoutJob struct {
	purchase  *service.PurchaseService
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOrderTimeoutJob(purchase *service.PurchaseService, logger *slog.Logger) *OrderTimeoutJob {
	return &OrderTimeoutJob{
		purchase:  purchase,
		logger:    logger.With("job", "order_timeout"),
		stopCh:    make(chan struct{}),
		interval:  10 * time.Second,
		batchSize: 100,
	}
}

func (j *OrderTimeoutJob) Start(ctx context.Context) {
	j.logger.Info("订单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("任务停止")
			return
		case <-ticker.C:
			j.closeExpiredOrders(ctx)
		}
	}
}

func (j *OrderTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *OrderTimeoutJob) closeExpiredOrders(ctx context.Context) int {
	closedCount, err := j.purchase.CloseExpiredOrders(ctx, j.batchSize)
	if err != nil {
		j.logger.Error("查询超时订单失败", "error", err)
		return 0
	}
	if closedCount > 0 {
		j.logger.Info("本次关闭超时订单", "count", closedCount)
	}
	return closedCount
}
