package model

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 与状态变更写在同一个数据库事务里，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);index;not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// PaymentSettledEvent 交易进入终态时发出
type PaymentSettledEvent struct {
	OrderID              string  `json:"order_id"`
	TransactionID        uint64  `json:"transaction_id"`
	BuyerID              int64   `json:"buyer_id"`
	Amount               string  `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	SettledBy            string  `json:"settled_by"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty"`
	SettledAt            string  `json:"settled_at"`
}

// SubscriptionActivatedEvent 订阅激活或续期时发出
type SubscriptionActivatedEvent struct {
	SubscriptionID uint64   `json:"subscription_id"`
	TransactionID  uint64   `json:"transaction_id"`
	BuyerID        int64    `json:"buyer_id"`
	ZipCodes       []string `json:"zip_codes"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
}

func NewOutboxMessage(topic, key string, payload any) (*OutboxMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		Payload:    string(raw),
		Status:     OutboxStatusPending,
	}, nil
}
