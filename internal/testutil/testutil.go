// Package testutil 提供测试用的数据库与种子数据。
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vendorpay/internal/config"
	"vendorpay/internal/infrastructure/database"
	"vendorpay/internal/model"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// NewDB 在临时目录创建 sqlite 库并完成迁移；单连接，事务内必须始终使用 tx
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "vendorpay_test.db") + "?_busy_timeout=5000",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// SeedPackage 写入一个可购买的套餐
func SeedPackage(t *testing.T, db *gorm.DB, price string, days, maxZips int) *model.Package {
	t.Helper()

	pkg := &model.Package{
		Name:         "Metro " + price,
		Price:        decimal.RequireFromString(price),
		Currency:     "USD",
		DurationDays: days,
		MaxZipCodes:  maxZips,
		IsActive:     true,
	}
	if err := db.WithContext(context.Background()).Create(pkg).Error; err != nil {
		t.Fatalf("seed package: %v", err)
	}
	return pkg
}

// SeedPending 写入一条 INACTIVE 订阅和对应的 PENDING 交易
func SeedPending(t *testing.T, db *gorm.DB, pkg *model.Package, buyerID int64, orderID string, zips ...string) (*model.Subscription, *model.Transaction) {
	t.Helper()

	sub := &model.Subscription{
		BuyerID:   buyerID,
		PackageID: pkg.ID,
		Status:    model.SubscriptionStatusInactive,
	}
	if err := sub.SetZipCodes(zips); err != nil {
		t.Fatalf("set zips: %v", err)
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	txn := &model.Transaction{
		OrderID:            orderID,
		Amount:             pkg.Price,
		Currency:           pkg.Currency,
		PaymentMethod:      "quickpay",
		PaymentStatus:      model.PaymentStatusPending,
		SubscribePackageID: sub.ID,
		BuyerID:            buyerID,
	}
	if err := db.Create(txn).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return sub, txn
}

// Backdate 修改交易创建时间，模拟过期的待支付订单
func Backdate(t *testing.T, db *gorm.DB, txnID uint64, age time.Duration) {
	t.Helper()

	err := db.Model(&model.Transaction{}).
		Where("id = ?", txnID).
		UpdateColumn("created_at", time.Now().Add(-age)).Error
	if err != nil {
		t.Fatalf("backdate transaction: %v", err)
	}
}
