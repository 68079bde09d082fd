package model

import (
	"time"
)

// ZipCodeCoverage 买家在某个邮编下的展示权益，激活时写入
type ZipCodeCoverage struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID        int64     `gorm:"index;not null" json:"buyer_id"`
	SubscriptionID uint64    `gorm:"uniqueIndex:uk_subscription_zip;not null" json:"subscription_id"`
	ZipCode        string    `gorm:"type:varchar(10);uniqueIndex:uk_subscription_zip;index;not null" json:"zip_code"`
	TransactionID  uint64    `gorm:"not null" json:"transaction_id"`
	StartsAt       time.Time `gorm:"not null" json:"starts_at"`
	ExpiresAt      time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ZipCodeCoverage) TableName() string {
	return "zip_code_coverages"
}
