package job

import (
	"context"
	"time"

	"vendorpay/internal/service"

	"go.uber.org/zap"
)

// ActivationSweepJob 补偿已完成但激活没有落库的交易
type ActivationSweepJob struct {
	activator *service.Activator
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewActivationSweepJob(activator *service.Activator, interval time.Duration, log *zap.Logger) *ActivationSweepJob {
	return &ActivationSweepJob{
		activator: activator,
		log:       log.Named("activation_sweep"),
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 50,
	}
}

func (j *ActivationSweepJob) Start(ctx context.Context) {
	j.log.Info("激活补偿任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("收到停止信号，任务退出")
			return
		case <-j.stopCh:
			j.log.Info("任务停止")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *ActivationSweepJob) Stop() {
	close(j.stopCh)
}

func (j *ActivationSweepJob) RunOnce(ctx context.Context) int {
	n, err := j.activator.SweepUnactivated(ctx, j.batchSize)
	if err != nil {
		j.log.Error("激活补偿失败", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.log.Info("补偿激活完成", zap.Int("activated", n))
	}
	return n
}
