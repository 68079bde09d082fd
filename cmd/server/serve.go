package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vendorpay/internal/gateway"
	"vendorpay/internal/handler"
	"vendorpay/internal/infrastructure/cache"
	"vendorpay/internal/infrastructure/database"
	"vendorpay/internal/infrastructure/mq"
	"vendorpay/internal/job"
	"vendorpay/internal/service"
	"vendorpay/pkg/idgen"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和后台任务",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()
	cfg, log := a.cfg, a.log

	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return fmt.Errorf("初始化 ID 生成器失败: %w", err)
	}

	if err := database.Migrate(a.db); err != nil {
		return err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = redisClient.Close() }()

	producer, err := mq.NewKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		return err
	}
	defer func() { _ = producer.Close() }()

	verifier, err := gateway.NewVerifier(cfg.Gateway.PrivateKey)
	if err != nil {
		return err
	}

	payments := service.NewPaymentService(service.Dependencies{
		DB:       a.db,
		Redis:    redisClient,
		Gateway:  gateway.NewClient(&cfg.Gateway, log),
		Verifier: verifier,
		Config:   cfg,
		Log:      log,
	})
	redirects := service.NewRedirectResponder(cfg.Redirect)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(a.db, producer, cfg.Business.MaxRetryCount, log)
	go outboxSender.Start(ctx)

	sweepJob := job.NewActivationSweepJob(payments.Activator(), cfg.Business.SweepInterval, log)
	go sweepJob.Start(ctx)

	reconcileJob := job.NewPendingReconcileJob(a.db, payments, &cfg.Business, log)
	go reconcileJob.Start(ctx)

	h := handler.NewHandler(payments, redirects, cfg.Gateway.SignatureHeader, log)
	router := handler.SetupRouter(h, cfg.Auth.JWTSecret, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		log.Error("服务启动失败", zap.Error(err))
		return err
	}

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}
