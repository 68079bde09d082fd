package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Package 套餐目录（只读协作方），由后台管理维护
type Package struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"type:varchar(128);not null" json:"name"`
	Price        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	Currency     string          `gorm:"type:varchar(3);not null" json:"currency"`
	DurationDays int             `gorm:"not null" json:"duration_days"`
	MaxZipCodes  int             `gorm:"not null" json:"max_zip_codes"`
	IsActive     bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Package) TableName() string {
	return "packages"
}

func (p *Package) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}
