package service

import (
	"context"
	"fmt"
	"time"

	"vendorpay/internal/apperr"
	"vendorpay/internal/config"
	"vendorpay/internal/model"
	"vendorpay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrZipCodeTaken = fmt.Errorf("%w: 邮编已在有效订阅中", apperr.ErrValidation)

// Activator 把已完成交易购买的权益落到订阅与邮编覆盖上
type Activator struct {
	db           *gorm.DB
	txnRepo      *repository.TransactionRepository
	subRepo      *repository.SubscriptionRepository
	pkgRepo      *repository.PackageRepository
	coverageRepo *repository.CoverageRepository
	outboxRepo   *repository.OutboxRepository
	topic        string
	log          *zap.Logger
	now          func() time.Time
}

func NewActivator(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Activator {
	return &Activator{
		db:           db,
		txnRepo:      repository.NewTransactionRepository(db),
		subRepo:      repository.NewSubscriptionRepository(db),
		pkgRepo:      repository.NewPackageRepository(db),
		coverageRepo: repository.NewCoverageRepository(db),
		outboxRepo:   repository.NewOutboxRepository(db),
		topic:        cfg.Kafka.Topic.SubscriptionActivated,
		log:          log,
		now:          time.Now,
	}
}

// PreCheck 买家在请求的邮编上不能已有未过期的覆盖（续费的那条订阅除外）
func (a *Activator) PreCheck(ctx context.Context, buyerID int64, zipCodes []string, renewSubscriptionID uint64) error {
	conflicts, err := a.coverageRepo.FindActiveConflicts(ctx, buyerID, zipCodes, a.now(), renewSubscriptionID)
	if err != nil {
		return fmt.Errorf("查询邮编覆盖失败: %w", err)
	}
	if len(conflicts) > 0 {
		taken := make([]string, 0, len(conflicts))
		for _, c := range conflicts {
			taken = append(taken, c.ZipCode)
		}
		return fmt.Errorf("%w: %v", ErrZipCodeTaken, taken)
	}
	return nil
}

// Activate 在调用方的数据库事务里激活交易对应的订阅
//
// 先抢占交易的 activated_at 标记，抢不到说明已经激活过，直接返回 false。
// 续费且原订阅仍有效时顺延 end_date，否则从 now 重新计算
func (a *Activator) Activate(ctx context.Context, tx *gorm.DB, transactionID uint64) (bool, error) {
	now := a.now()
	claimed, err := a.txnRepo.ClaimActivation(ctx, tx, transactionID, now)
	if err != nil {
		return false, fmt.Errorf("抢占激活标记失败: %w", err)
	}
	if !claimed {
		return false, nil
	}

	txn, err := a.txnRepo.FindByID(ctx, tx, transactionID)
	if err != nil {
		return false, err
	}
	sub, err := a.subRepo.FindByID(ctx, tx, txn.SubscribePackageID)
	if err != nil {
		return false, err
	}
	pkg, err := a.pkgRepo.FindByID(ctx, tx, sub.PackageID)
	if err != nil {
		return false, err
	}
	if pkg == nil {
		return false, fmt.Errorf("订阅 %d 引用的套餐 %d 不存在", sub.ID, sub.PackageID)
	}

	start := now
	end := now.Add(pkg.Duration())
	if sub.RunningAt(now) {
		if sub.StartDate != nil {
			start = *sub.StartDate
		}
		end = sub.EndDate.Add(pkg.Duration())
	}

	sub.Status = model.SubscriptionStatusActive
	sub.StartDate = &start
	sub.EndDate = &end
	sub.LastTransactionID = &txn.ID
	sub.ActivatedAt = &now
	if err := a.subRepo.SaveActivation(ctx, tx, sub); err != nil {
		return false, fmt.Errorf("更新订阅失败: %w", err)
	}

	zips, err := sub.ZipCodeList()
	if err != nil {
		return false, fmt.Errorf("解析订阅邮编失败: %w", err)
	}
	rows := make([]*model.ZipCodeCoverage, 0, len(zips))
	for _, zip := range zips {
		rows = append(rows, &model.ZipCodeCoverage{
			BuyerID:        sub.BuyerID,
			SubscriptionID: sub.ID,
			ZipCode:        zip,
			TransactionID:  txn.ID,
			StartsAt:       start,
			ExpiresAt:      end,
		})
	}
	if err := a.coverageRepo.Upsert(ctx, tx, rows); err != nil {
		return false, fmt.Errorf("写入邮编覆盖失败: %w", err)
	}

	msg, err := model.NewOutboxMessage(a.topic, txn.OrderID, model.SubscriptionActivatedEvent{
		SubscriptionID: sub.ID,
		TransactionID:  txn.ID,
		BuyerID:        sub.BuyerID,
		ZipCodes:       zips,
		StartDate:      start.Format(time.RFC3339),
		EndDate:        end.Format(time.RFC3339),
	})
	if err != nil {
		return false, err
	}
	if err := a.outboxRepo.Create(ctx, tx, msg); err != nil {
		return false, fmt.Errorf("写入消息失败: %w", err)
	}

	a.log.Info("订阅已激活",
		zap.String("order_id", txn.OrderID),
		zap.Uint64("subscription_id", sub.ID),
		zap.Time("end_date", end),
	)
	return true, nil
}

// SweepUnactivated 补偿已完成但未激活的交易，返回本次激活的数量
func (a *Activator) SweepUnactivated(ctx context.Context, limit int) (int, error) {
	txns, err := a.txnRepo.ListCompletedUnactivated(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("查询待激活交易失败: %w", err)
	}

	activated := 0
	for _, txn := range txns {
		var ok bool
		err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			ok, err = a.Activate(ctx, tx, txn.ID)
			return err
		})
		if err != nil {
			a.log.Error("补偿激活失败", zap.String("order_id", txn.OrderID), zap.Error(err))
			continue
		}
		if ok {
			activated++
		}
	}
	return activated, nil
}
