// Package razorpay Razorpay 订单、webhook 与退款
package razorpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Daneel-Li/dgshop/internal/config"
	"github.com/Daneel-Li/dgshop/internal/errs"
	"github.com/Daneel-Li/dgshop/internal/gateways"
	"github.com/Daneel-Li/dgshop/internal/types"

	rzp "github.com/razorpay/razorpay-go"
	rzputils "github.com/razorpay/razorpay-go/utils"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"

	EventPaymentCaptured = "payment.captured"
	EventOrderPaid       = "order.paid"

	noteOrderID           = "order_id"
	noteTransactionNumber = "transaction_number"
)

type orderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type paymentAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type Gateway struct {
	cfg      *config.RazorpayConfig
	orders   orderAPI
	payments paymentAPI
}

var _ gateways.Gateway = (*Gateway)(nil)

func New(cfg *config.RazorpayConfig) *Gateway {
	client := rzp.NewClient(cfg.KeyID, cfg.KeySecret)
	return NewWithClients(cfg, client.Order, client.Payment)
}

func NewWithClients(cfg *config.RazorpayConfig, orders orderAPI, payments paymentAPI) *Gateway {
	return &Gateway{cfg: cfg, orders: orders, payments: payments}
}

func (g *Gateway) Name() types.PaymentMethod {
	return types.METHOD_RAZORPAY
}

func (g *Gateway) WebhookSecret() string {
	return g.cfg.WebhookSecret
}

// CreateRemoteIntent 创建 Razorpay Order，前端 checkout 使用返回的 order id
func (g *Gateway) CreateRemoteIntent(_ context.Context, req gateways.IntentRequest) (*gateways.RemoteIntent, error) {
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": req.Currency,
		"receipt":  req.CorrelationID,
		"notes": map[string]interface{}{
			noteOrderID:           strconv.FormatUint(uint64(req.OrderID), 10),
			noteTransactionNumber: req.CorrelationID,
		},
	}
	body, err := g.orders.Create(data, nil)
	if err != nil {
		return nil, errs.ErrGatewayFailed.Wrap(fmt.Errorf("razorpay order create failed: %w", err))
	}
	id, _ := body["id"].(string)
	if id == "" {
		return nil, errs.ErrGatewayFailed.WithMsg("razorpay order create returned no id")
	}
	return &gateways.RemoteIntent{RemoteID: id, ClientSecretOrApprovalURL: id}, nil
}

// VerifyWebhookSignature HMAC-SHA256(raw body, webhook secret)
func (g *Gateway) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) bool {
	signature := headers.Get(HeaderSignature)
	if signature == "" || secret == "" {
		return false
	}
	return rzputils.VerifyWebhookSignature(string(raw), signature, secret)
}

type entity struct {
	ID       string          `json:"id"`
	Amount   int64           `json:"amount"`
	Currency string          `json:"currency"`
	Status   string          `json:"status"`
	OrderID  string          `json:"order_id"`
	Receipt  string          `json:"receipt"`
	Notes    json.RawMessage `json:"notes"`
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity entity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity entity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

// notes 为空时 Razorpay 返回 []，这里只接受对象
func (e entity) note(key string) string {
	var m map[string]interface{}
	if len(e.Notes) == 0 || json.Unmarshal(e.Notes, &m) != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func (g *Gateway) ParseWebhookEvent(raw []byte, headers http.Header) (*gateways.Event, error) {
	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, errs.ErrMalformedEvent.Wrap(err)
	}
	if body.Event == "" || body.Payload.Payment == nil {
		return nil, errs.ErrMalformedEvent.WithMsg("razorpay event without payment entity")
	}
	pay := body.Payload.Payment.Entity

	ev := &gateways.Event{
		EventID:               headers.Get(HeaderEventID),
		Type:                  body.Event,
		ExternalTransactionID: pay.ID,
		CapturedAmount:        pay.Amount,
		Currency:              pay.Currency,
		Raw:                   raw,
	}
	if ev.EventID == "" {
		ev.EventID = body.Event + ":" + pay.ID
	}

	// payment 上没有 notes 时取 order 上的
	orderID, tn := pay.note(noteOrderID), pay.note(noteTransactionNumber)
	if body.Payload.Order != nil {
		o := body.Payload.Order.Entity
		if orderID == "" {
			orderID = o.note(noteOrderID)
		}
		if tn == "" {
			tn = o.note(noteTransactionNumber)
		}
		if tn == "" {
			tn = o.Receipt
		}
	}
	ev.CorrelationID = tn
	if orderID != "" {
		id, err := strconv.ParseUint(orderID, 10, 64)
		if err != nil {
			return nil, errs.ErrMalformedEvent.WithMsg("invalid order_id note %q", orderID)
		}
		ev.OrderID = uint(id)
	}
	if ev.CorrelationID == "" {
		// 只能依靠 razorpay order id 反查
		ev.CorrelationID = pay.OrderID
	}

	switch body.Event {
	case EventPaymentCaptured, EventOrderPaid:
		ev.Captured = pay.Status == "captured"
	}
	return ev, nil
}

// CreateRemoteRefund 按支付 id 全额退款
func (g *Gateway) CreateRemoteRefund(_ context.Context, req gateways.RefundRequest) (*gateways.RemoteRefund, error) {
	data := map[string]interface{}{
		"receipt": req.RefundNo,
		"notes":   map[string]interface{}{"reason": req.Reason},
	}
	body, err := g.payments.Refund(req.RemoteChargeID, int(req.AmountMinor), data, nil)
	if err != nil {
		return nil, errs.ErrGatewayFailed.Wrap(fmt.Errorf("razorpay refund failed: %w", err))
	}

	out := &gateways.RemoteRefund{Status: gateways.RefundFailed}
	out.RemoteRefundID, _ = body["id"].(string)
	out.Raw, _ = json.Marshal(body)
	switch status, _ := body["status"].(string); status {
	case "processed":
		out.Status = gateways.RefundSucceeded
	case "pending":
		out.Status = gateways.RefundPending
	}
	return out, nil
}
