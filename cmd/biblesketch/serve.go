package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"biblesketch/internal/config"
	"biblesketch/internal/handler"
	"biblesketch/internal/imaging"
	"biblesketch/internal/infrastructure/cache"
	"biblesketch/internal/infrastructure/database"
	"biblesketch/internal/infrastructure/mq"
	"biblesketch/internal/job"
	"biblesketch/internal/metrics"
	"biblesketch/internal/service"
	"biblesketch/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

func serveCmd(configPath *string) *cobra.Command {
	var nodeID int64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API 和后台任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, nodeID)
		},
	}
	cmd.Flags().Int64Var(&nodeID, "node-id", 1, "snowflake 节点号，多实例部署时必须唯一")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, nodeID int64) error {
	logger := newLogger(&cfg.Log)

	if err := idgen.Init(nodeID); err != nil {
		return err
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	logger.Info("数据库连接成功", "driver", cfg.Database.Driver)

	redisClient, err := cache.Open(ctx, &cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Redis 连接成功", "host", cfg.Redis.Host, "lock_enabled", cfg.Ledger.LockEnabled)
	} else if cfg.Ledger.LockEnabled {
		logger.Warn("未配置 Redis，账户锁不生效")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	ledger := service.NewLedgerService(db, redisClient, cfg, m, logger)
	purchase := service.NewPurchaseService(db, cfg, ledger, logger)
	normalizer := imaging.NewNormalizer(cfg.Imaging, m, logger)

	jobs := newJobGroup(ctx)
	defer jobs.Stop()

	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher := mq.NewKafkaPublisher(producer)
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(db, publisher, cfg, m, logger)
		jobs.Go(outboxSender.Start)
		logger.Info("Kafka 连接成功", "brokers", cfg.Kafka.Brokers)
	} else {
		logger.Warn("未配置 Kafka，余额事件保留在 outbox 表中")
	}

	orderTimeoutJob := job.NewOrderTimeoutJob(purchase, logger)
	jobs.Go(orderTimeoutJob.Start)

	reconciler := job.NewLedgerReconciler(purchase, cfg, logger)
	jobs.Go(reconciler.Start)

	// 最后注册，先于关闭 Kafka、Redis、数据库执行
	defer func() {
		jobs.Stop()
		logger.Info("后台任务已退出")
	}()

	h := handler.NewHandler(ledger, purchase, normalizer, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.SetupRouter(h, registry, cfg.Server.MaxBodyBytes, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务启动", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("服务启动失败: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务关闭异常", "error", err)
	}

	logger.Info("服务已关闭")
	return nil
}

// jobGroup 跟踪后台任务，Stop 取消上下文并等待全部退出
type jobGroup struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJobGroup(parent context.Context) *jobGroup {
	ctx, cancel := context.WithCancel(parent)
	return &jobGroup{ctx: ctx, cancel: cancel}
}

func (g *jobGroup) Go(start func(context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		start(g.ctx)
	}()
}

// Stop 可以重复调用
func (g *jobGroup) Stop() {
	g.cancel()
	g.wg.Wait()
}
