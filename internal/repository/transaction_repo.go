package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound  = fmt.Errorf("%w: 交易不存在", apperr.ErrNotFound)
	ErrTransactionCompleted = fmt.Errorf("%w: 已完成的交易不可删除", apperr.ErrImmutableRecord)
	ErrInvalidTransition    = errors.New("交易状态流转不合法")
)

// TransitionUpdate 状态流转时一并写入的字段
type TransitionUpdate struct {
	SettledBy            string
	GatewayTransactionID string
	GatewayPayload       []byte
}

// TransactionFilter 后台列表筛选条件，零值表示不过滤
type TransactionFilter struct {
	Status  string
	BuyerID int64
}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, txn *model.Transaction) error {
	return r.conn(tx).WithContext(ctx).Create(txn).Error
}

func (r *TransactionRepository) FindByOrderID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("order_id = ?", orderID).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, tx *gorm.DB, id uint64) (*model.Transaction, error) {
	var txn model.Transaction
	err := r.conn(tx).WithContext(ctx).Where("id = ?", id).First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &txn, nil
}

// TryTransition 条件更新 payment_status，返回值表示本次调用是否真正改变了这一行
//
// 只有 RowsAffected == 1 的那个调用者拥有后续副作用（激活、发事件）。
// 返回 false 不是错误：说明订单已被其它路径结算，调用方应读取当前状态返回
func (r *TransactionRepository) TryTransition(ctx context.Context, tx *gorm.DB, orderID, fromStatus, toStatus string, upd TransitionUpdate) (bool, error) {
	if !model.CanTransitionTo(fromStatus, toStatus) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, fromStatus, toStatus)
	}

	now := time.Now()
	updates := map[string]interface{}{
		"payment_status": toStatus,
		"settled_by":     upd.SettledBy,
		"settled_at":     &now,
	}
	if upd.GatewayTransactionID != "" {
		updates["gateway_transaction_id"] = upd.GatewayTransactionID
	}
	if len(upd.GatewayPayload) > 0 {
		updates["gateway_payload"] = datatypes.JSON(upd.GatewayPayload)
	}

	result := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("order_id = ? AND payment_status = ?", orderID, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSuccessRedirect 记录买家第一次从成功页返回的时间，不改 updated_at
func (r *TransactionRepository) MarkSuccessRedirect(ctx context.Context, orderID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("order_id = ? AND payment_status = ? AND success_redirect_at IS NULL", orderID, model.PaymentStatusPending).
		UpdateColumn("success_redirect_at", at).Error
}

// ClaimActivation 抢占交易的激活标记，只有抢到的调用者执行激活
func (r *TransactionRepository) ClaimActivation(ctx context.Context, tx *gorm.DB, id uint64, at time.Time) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND payment_status = ? AND activated_at IS NULL", id, model.PaymentStatusCompleted).
		UpdateColumn("activated_at", at)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListStalePending 创建时间早于 before 仍未结算的交易
func (r *TransactionRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	var txns []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND created_at < ?", model.PaymentStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// ListCompletedUnactivated 已完成但激活没有落库的交易，由补偿任务修复
func (r *TransactionRepository) ListCompletedUnactivated(ctx context.Context, limit int) ([]*model.Transaction, error) {
	var txns []*model.Transaction
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND activated_at IS NULL", model.PaymentStatusCompleted).
		Order("id ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) ListForBuyer(ctx context.Context, buyerID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	return r.ListAll(ctx, TransactionFilter{BuyerID: buyerID}, page, pageSize)
}

func (r *TransactionRepository) ListAll(ctx context.Context, filter TransactionFilter, page, pageSize int) ([]*model.Transaction, int64, error) {
	var txns []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{})
	if filter.Status != "" {
		query = query.Where("payment_status = ?", filter.Status)
	}
	if filter.BuyerID != 0 {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&txns).Error

	return txns, total, err
}

func (r *TransactionRepository) CountBySubscription(ctx context.Context, tx *gorm.DB, subscriptionID uint64) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.Transaction{}).
		Where("subscribe_package_id = ?", subscriptionID).
		Count(&count).Error
	return count, err
}

// Delete 只删除未完成的交易；订阅若因此失去所有交易且从未激活，一并删除
func (r *TransactionRepository) Delete(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn, err := r.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}

		result := tx.Where("id = ? AND payment_status <> ?", id, model.PaymentStatusCompleted).
			Delete(&model.Transaction{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrTransactionCompleted
		}

		remaining, err := r.CountBySubscription(ctx, tx, txn.SubscribePackageID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		return tx.Where("id = ? AND status = ?", txn.SubscribePackageID, model.SubscriptionStatusInactive).
			Delete(&model.Subscription{}).Error
	})
}
