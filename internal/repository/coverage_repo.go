package repository

import (
	"context"
	"time"

	"vendorpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CoverageRepository 买家与邮编的关联，激活时写入
type CoverageRepository struct {
	db *gorm.DB
}

func NewCoverageRepository(db *gorm.DB) *CoverageRepository {
	return &CoverageRepository{db: db}
}

// Upsert 同一订阅同一邮编只保留一行，续费时刷新有效期
func (r *CoverageRepository) Upsert(ctx context.Context, tx *gorm.DB, rows []*model.ZipCodeCoverage) error {
	if len(rows) == 0 {
		return nil
	}
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "zip_code"}},
			DoUpdates: clause.AssignmentColumns([]string{"transaction_id", "starts_at", "expires_at", "updated_at"}),
		}).
		Create(&rows).Error
}

// FindActiveConflicts 买家在 now 时刻仍有效、且不属于 excludeSubscriptionID 的邮编覆盖
func (r *CoverageRepository) FindActiveConflicts(ctx context.Context, buyerID int64, zipCodes []string, now time.Time, excludeSubscriptionID uint64) ([]*model.ZipCodeCoverage, error) {
	var rows []*model.ZipCodeCoverage
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND zip_code IN ? AND expires_at > ? AND subscription_id <> ?",
			buyerID, zipCodes, now, excludeSubscriptionID).
		Find(&rows).Error
	return rows, err
}

func (r *CoverageRepository) ListBySubscription(ctx context.Context, subscriptionID uint64) ([]*model.ZipCodeCoverage, error) {
	var rows []*model.ZipCodeCoverage
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("zip_code ASC").
		Find(&rows).Error
	return rows, err
}
