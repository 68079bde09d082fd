package job

import (
	"context"
	"time"

	"vendorpay/internal/config"
	"vendorpay/internal/repository"
	"vendorpay/internal/service"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PendingReconcileJob 向网关核对长时间未结算的交易，超过有效期仍无结果的置为 CANCELLED
type PendingReconcileJob struct {
	payments  *service.PaymentService
	txnRepo   *repository.TransactionRepository
	log       *zap.Logger
	stopCh    chan struct{}
	interval  time.Duration
	staleAge  time.Duration
	expireAge time.Duration
	batchSize int
}

func NewPendingReconcileJob(db *gorm.DB, payments *service.PaymentService, cfg *config.BusinessConfig, log *zap.Logger) *PendingReconcileJob {
	return &PendingReconcileJob{
		payments:  payments,
		txnRepo:   repository.NewTransactionRepository(db),
		log:       log.Named("pending_reconcile"),
		stopCh:    make(chan struct{}),
		interval:  cfg.ReconcileInterval,
		staleAge:  time.Duration(cfg.PendingReconcileMinutes) * time.Minute,
		expireAge: time.Duration(cfg.PendingExpireMinutes) * time.Minute,
		batchSize: 50,
	}
}

func (j *PendingReconcileJob) Start(ctx context.Context) {
	j.log.Info("待支付对账任务启动", zap.Duration("interval", j.interval))

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

func (j *PendingReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce 处理一批超过 staleAge 的待支付交易，返回状态发生变化的数量
func (j *PendingReconcileJob) RunOnce(ctx context.Context) int {
	now := time.Now()
	txns, err := j.txnRepo.ListStalePending(ctx, now.Add(-j.staleAge), j.batchSize)
	if err != nil {
		j.log.Error("查询待支付交易失败", zap.Error(err))
		return 0
	}
	if len(txns) == 0 {
		return 0
	}

	settled := 0
	expireBefore := now.Add(-j.expireAge)
	for _, txn := range txns {
		result, err := j.payments.ReconcilePending(ctx, txn.OrderID, expireBefore)
		if err != nil {
			j.log.Warn("对账失败", zap.String("order_id", txn.OrderID), zap.Error(err))
			continue
		}
		if result.Changed {
			settled++
			j.log.Info("对账结算", zap.String("order_id", txn.OrderID), zap.String("status", result.Status))
		}
	}
	j.log.Info("本轮对账完成", zap.Int("checked", len(txns)), zap.Int("settled", settled))
	return settled
}
