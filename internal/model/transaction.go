package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusCancelled = "CANCELLED"
)

// ValidStatusTransitions 终态（COMPLETED / FAILED / CANCELLED）没有任何出边
var ValidStatusTransitions = map[string][]string{
	PaymentStatusPending: {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
}

func CanTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	switch status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// 结算来源，写入 settled_by
const (
	SettledByWebhook   = "webhook"
	SettledByRedirect  = "redirect"
	SettledByReconcile = "reconcile"
	SettledByExpiry    = "expired"
	SettledByCancel    = "cancel_redirect"
)

// Transaction 支付交易表
//
// 【重要】
// 1. order_id 唯一，一个 order_id 只对应一条交易、一个网关订单
// 2. payment_status 只能经由 TransactionRepository.TryTransition 修改
// 3. updated_at 只在状态流转或回填网关交易号时变化，其它字段用 UpdateColumn 写入
type Transaction struct {
	ID                   uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID              string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"order_id"`
	Amount               decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentMethod        string          `gorm:"type:varchar(32);not null" json:"payment_method"`
	PaymentStatus        string          `gorm:"type:varchar(20);index;not null" json:"payment_status"`
	GatewayTransactionID *string         `gorm:"type:varchar(64);index" json:"gateway_transaction_id"`
	SubscribePackageID   uint64          `gorm:"index;not null" json:"subscribe_package_id"`
	BuyerID              int64           `gorm:"index;not null" json:"buyer_id"`
	SettledBy            string          `gorm:"type:varchar(64)" json:"settled_by,omitempty"`
	SettledAt            *time.Time      `json:"settled_at,omitempty"`
	SuccessRedirectAt    *time.Time      `json:"success_redirect_at,omitempty"`
	ActivatedAt          *time.Time      `gorm:"index" json:"activated_at,omitempty"`
	GatewayPayload       datatypes.JSON  `json:"-"`
	CreatedAt            time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

// Provisional 买家已从成功页返回，但网关尚未确认
func (t *Transaction) Provisional() bool {
	return t.PaymentStatus == PaymentStatusPending && t.SuccessRedirectAt != nil
}
