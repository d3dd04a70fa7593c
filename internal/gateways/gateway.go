package gateways

import (
	"context"
	"net/http"

	"github.com/Daneel-Li/dgshop/internal/types"
)

// IntentRequest 创建远端支付意图的参数，金额只能来自订单的权威金额
type IntentRequest struct {
	AmountMinor   int64
	Currency      string
	CorrelationID string // 交易号，原样回传到 webhook
	OrderID       uint
	Description   string
}

type RemoteIntent struct {
	RemoteID                  string
	ClientSecretOrApprovalURL string
}

type RefundRequest struct {
	RemoteChargeID string
	AmountMinor    int64
	Currency       string
	Reason         string
	RefundNo       string
}

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
	RefundFailed    RefundStatus = "failed"
)

type RemoteRefund struct {
	RemoteRefundID string
	Status         RefundStatus
	Raw            []byte
}

// Event 验签后解析出的支付事件
type Event struct {
	EventID               string
	Type                  string
	Captured              bool // 是否为支付成功事件，其余事件只存档不结算
	CorrelationID         string
	OrderID               uint
	ExternalTransactionID string
	CapturedAmount        int64
	Currency              string
	Raw                   []byte
}

// Gateway 所有支付网关必须实现的接口
type Gateway interface {
	Name() types.PaymentMethod
	CreateRemoteIntent(ctx context.Context, req IntentRequest) (*RemoteIntent, error)

	// 验签必须在解析之前，基于原始请求体
	VerifyWebhookSignature(raw []byte, headers http.Header, secret string) bool
	WebhookSecret() string
	ParseWebhookEvent(raw []byte, headers http.Header) (*Event, error)

	CreateRemoteRefund(ctx context.Context, req RefundRequest) (*RemoteRefund, error)
}
