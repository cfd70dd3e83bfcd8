package job

import (
	"context"
	"log/slog"
	"time"

	"biblesketch/internal/config"
	"biblesketch/internal/service"
)

// LedgerReconciler 补写已发放订单丢失的购买流水
//
// 流水在余额提交之后写，进程崩溃或数据库抖动会丢掉它。只检查
// 完成时间早于 grace 的订单，避免和正在写流水的 Fulfill 抢着写；
// 唯一的 Reference 保证同一条流水最多写入一次。
type LedgerReconciler struct {
	purchase  *service.PurchaseService
	grace     time.Duration
	lookback  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewLedgerReconciler(purchase *service.PurchaseService, cfg *config.Config, logger *slog.Logger) *LedgerReconciler {
	return &LedgerReconciler{
		purchase:  purchase,
		grace:     cfg.Purchase.ReconcileGrace,
		lookback:  24 * time.Hour,
		logger:    logger.With("job", "ledger_reconciler"),
		stopCh:    make(chan struct{}),
		interval:  30 * time.Second,
		batchSize: 50,
	}
}

func (j *LedgerReconciler) Start(ctx context.Context) {
	j.logger.Info("流水补偿任务启动")

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
			j.reconcile(ctx, time.Now())
		}
	}
}

func (j *LedgerReconciler) Stop() {
	close(j.stopCh)
}

func (j *LedgerReconciler) reconcile(ctx context.Context, now time.Time) int {
	before := now.Add(-j.grace)
	since := before.Add(-j.lookback)

	repaired, err := j.purchase.ReconcileEntries(ctx, since, before, j.batchSize)
	if err != nil {
		j.logger.Error("补写流水失败", "error", err, "repaired", repaired)
		return repaired
	}
	if repaired > 0 {
		j.logger.Warn("发现丢失的购买流水并已补写", "count", repaired)
	}
	return repaired
}
