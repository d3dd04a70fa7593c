package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"testing"

	"github.com/Daneel-Li/dgshop/internal/config"
	"github.com/Daneel-Li/dgshop/internal/errs"
	"github.com/Daneel-Li/dgshop/internal/gateways"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockOrders struct{ mock.Mock }

func (m *mockOrders) Create(data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
	args := m.Called(data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

type mockPayments struct{ mock.Mock }

func (m *mockPayments) Refund(paymentID string, amount int, data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
	args := m.Called(paymentID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func newTestGateway() (*Gateway, *mockOrders, *mockPayments) {
	o, p := &mockOrders{}, &mockPayments{}
	return NewWithClients(&config.RazorpayConfig{KeyID: "rzp_test", KeySecret: "s", WebhookSecret: "whsec"}, o, p), o, p
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

const capturedBody = `{
  "entity": "event",
  "event": "payment.captured",
  "payload": {
    "payment": {
      "entity": {
        "id": "pay_N1",
        "amount": 9000,
        "currency": "INR",
        "status": "captured",
        "order_id": "order_R1",
        "notes": {"order_id": "12", "transaction_number": "TN12"}
      }
    }
  },
  "created_at": 1790000000
}`

func TestCreateRemoteIntent(t *testing.T) {
	g, o, _ := newTestGateway()
	o.On("Create", mock.MatchedBy(func(d map[string]interface{}) bool {
		return d["amount"] == int64(9000) && d["currency"] == "INR" && d["receipt"] == "TN12"
	})).Return(map[string]interface{}{"id": "order_R1"}, nil)

	intent, err := g.CreateRemoteIntent(context.Background(), gateways.IntentRequest{
		AmountMinor: 9000, Currency: "INR", CorrelationID: "TN12", OrderID: 12,
	})
	require.NoError(t, err)
	assert.Equal(t, "order_R1", intent.RemoteID)
	o.AssertExpectations(t)
}

func TestVerifyWebhookSignature(t *testing.T) {
	g, _, _ := newTestGateway()
	body := []byte(capturedBody)

	h := http.Header{}
	h.Set(HeaderSignature, sign(body, "whsec"))
	assert.True(t, g.VerifyWebhookSignature(body, h, g.WebhookSecret()))

	h.Set(HeaderSignature, sign(body, "other"))
	assert.False(t, g.VerifyWebhookSignature(body, h, g.WebhookSecret()))

	// 请求体被篡改
	h.Set(HeaderSignature, sign(body, "whsec"))
	assert.False(t, g.VerifyWebhookSignature(append(body, ' '), h, g.WebhookSecret()))

	assert.False(t, g.VerifyWebhookSignature(body, http.Header{}, g.WebhookSecret()))
}

func TestParseWebhookEvent(t *testing.T) {
	g, _, _ := newTestGateway()
	h := http.Header{}
	h.Set(HeaderEventID, "evt_1")

	ev, err := g.ParseWebhookEvent([]byte(capturedBody), h)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.EventID)
	assert.True(t, ev.Captured)
	assert.Equal(t, uint(12), ev.OrderID)
	assert.Equal(t, "TN12", ev.CorrelationID)
	assert.Equal(t, "pay_N1", ev.ExternalTransactionID)
	assert.Equal(t, int64(9000), ev.CapturedAmount)

	failed := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_F","amount":1,"status":"failed","notes":[]}}}}`
	ev, err = g.ParseWebhookEvent([]byte(failed), http.Header{})
	require.NoError(t, err)
	assert.False(t, ev.Captured)
	assert.Equal(t, "payment.failed:pay_F", ev.EventID)

	_, err = g.ParseWebhookEvent([]byte(`{"event":"order.paid"}`), http.Header{})
	assert.ErrorIs(t, err, errs.ErrMalformedEvent)
}

func TestCreateRemoteRefund(t *testing.T) {
	g, _, p := newTestGateway()
	p.On("Refund", "pay_N1", 9000).Return(map[string]interface{}{"id": "rfnd_1", "status": "processed"}, nil).Once()

	out, err := g.CreateRemoteRefund(context.Background(), gateways.RefundRequest{RemoteChargeID: "pay_N1", AmountMinor: 9000})
	require.NoError(t, err)
	assert.Equal(t, "rfnd_1", out.RemoteRefundID)
	assert.Equal(t, gateways.RefundSucceeded, out.Status)

	p.On("Refund", "pay_N1", 9000).Return(nil, errors.New("BAD_REQUEST_ERROR")).Once()
	_, err = g.CreateRemoteRefund(context.Background(), gateways.RefundRequest{RemoteChargeID: "pay_N1", AmountMinor: 9000})
	assert.ErrorIs(t, err, errs.ErrGatewayFailed)
}
