package dgs

import (
	"time"

	"github.com/Daneel-Li/dgshop/internal/types"

	"gorm.io/datatypes"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

type Payment struct {
	ID                    uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNumber     string              `gorm:"uniqueIndex;type:varchar(32);not null;comment:商户交易号" json:"transaction_number"`
	ExternalTransactionID string              `gorm:"type:varchar(64);index;comment:网关交易号" json:"external_transaction_id,omitempty"`
	RemoteIntentID        string              `gorm:"type:varchar(64);index;comment:网关侧订单号" json:"remote_intent_id,omitempty"`
	OrderID               uint                `gorm:"index;not null" json:"order_id"`
	Amount                int64               `gorm:"not null;comment:金额(分)" json:"amount"`
	Currency              string              `gorm:"type:varchar(3);not null" json:"currency"`
	Method                types.PaymentMethod `gorm:"type:varchar(16);not null" json:"method"`
	Status                PaymentStatus       `gorm:"type:varchar(16);not null;index" json:"status"`
	IPAddress             string              `gorm:"type:varchar(64)" json:"-"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
	PaidAt                *time.Time          `json:"paid_at,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusFailed    RefundStatus = "failed"
)

type Refund struct {
	ID               uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundNumber     string              `gorm:"uniqueIndex;type:varchar(64);not null;comment:商户退款单号" json:"refund_number"`
	PaymentID        uint                `gorm:"index;not null" json:"payment_id"`
	OrderID          uint                `gorm:"index;not null" json:"order_id"`
	Amount           int64               `gorm:"not null" json:"amount"`
	Currency         string              `gorm:"type:varchar(3);not null" json:"currency"`
	Provider         types.PaymentMethod `gorm:"type:varchar(16);not null" json:"provider"`
	ProviderRefundID *string             `gorm:"type:varchar(128)" json:"provider_refund_id,omitempty"`
	Status           RefundStatus        `gorm:"type:varchar(16);not null;index" json:"status"`
	Reason           string              `gorm:"type:varchar(255)" json:"reason,omitempty"`
	ErrorMessage     string              `gorm:"type:varchar(512)" json:"error_message,omitempty"`
	ProviderResponse datatypes.JSON      `gorm:"type:json" json:"-"`
	CreatedAt        time.Time           `json:"created_at"`
}

func (Refund) TableName() string {
	return "refunds"
}

// WebhookEvent 已验签的网关回调存档，按 (provider, event_id) 去重
type WebhookEvent struct {
	ID                uint                `gorm:"primaryKey;autoIncrement"`
	Provider          types.PaymentMethod `gorm:"type:varchar(16);not null;uniqueIndex:uk_provider_event"`
	EventID           string              `gorm:"type:varchar(128);not null;uniqueIndex:uk_provider_event"`
	EventType         string              `gorm:"type:varchar(64);index"`
	TransactionNumber string              `gorm:"type:varchar(32);index"`
	Payload           datatypes.JSON      `gorm:"type:json"`
	CreatedAt         time.Time
}

func (WebhookEvent) TableName() string {
	return "webhook_events"
}
