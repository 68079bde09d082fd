package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

const (
	SubscriptionStatusInactive = "INACTIVE"
	SubscriptionStatusActive   = "ACTIVE"
)

// Subscription 买家购买的邮编覆盖套餐（SubscribePackage）
// 与创建它的交易一同以 INACTIVE 落库，只有 SubscriptionActivator 能把它置为 ACTIVE；
// 续费时新交易引用同一条订阅
type Subscription struct {
	ID                uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID           int64          `gorm:"index;not null" json:"buyer_id"`
	PackageID         uint64         `gorm:"index;not null" json:"package_id"`
	Status            string         `gorm:"type:varchar(20);index;not null" json:"status"`
	ZipCodes          datatypes.JSON `gorm:"not null" json:"zip_codes"`
	StartDate         *time.Time     `json:"start_date"`
	EndDate           *time.Time     `gorm:"index" json:"end_date"`
	LastTransactionID *uint64        `json:"last_transaction_id"`
	ActivatedAt       *time.Time     `json:"activated_at"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscribe_packages"
}

func (s *Subscription) ZipCodeList() ([]string, error) {
	var zips []string
	if len(s.ZipCodes) == 0 {
		return zips, nil
	}
	err := json.Unmarshal(s.ZipCodes, &zips)
	return zips, err
}

func (s *Subscription) SetZipCodes(zips []string) error {
	raw, err := json.Marshal(zips)
	if err != nil {
		return err
	}
	s.ZipCodes = datatypes.JSON(raw)
	return nil
}

// RunningAt 订阅在 now 时刻是否仍在有效期内
func (s *Subscription) RunningAt(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && s.EndDate != nil && s.EndDate.After(now)
}
