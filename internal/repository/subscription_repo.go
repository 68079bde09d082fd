package repository

import (
	"context"
	"errors"
	"fmt"

	"vendorpay/internal/apperr"
	"vendorpay/internal/model"

	"gorm.io/gorm"
)

var ErrSubscriptionNotFound = fmt.Errorf("%w: 订阅不存在", apperr.ErrNotFound)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(sub).Error
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, tx *gorm.DB, id uint64) (*model.Subscription, error) {
	if tx == nil {
		tx = r.db
	}
	var sub model.Subscription
	err := tx.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// SaveActivation 写入激活结果：状态、有效期与最后一笔交易
func (r *SubscriptionRepository) SaveActivation(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]interface{}{
			"status":              sub.Status,
			"start_date":          sub.StartDate,
			"end_date":            sub.EndDate,
			"last_transaction_id": sub.LastTransactionID,
			"activated_at":        sub.ActivatedAt,
		}).Error
}

// UpdateZipCodes 续费时买家可以调整邮编，仅在未激活前生效
func (r *SubscriptionRepository) UpdateZipCodes(ctx context.Context, tx *gorm.DB, sub *model.Subscription) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Subscription{}).
		Where("id = ?", sub.ID).
		Update("zip_codes", sub.ZipCodes).Error
}

func (r *SubscriptionRepository) ListByBuyer(ctx context.Context, buyerID int64) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("id DESC").
		Find(&subs).Error
	return subs, err
}
