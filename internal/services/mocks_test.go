package services

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/dao/daotest"
	"github.com/Daneel-Li/dgshop/internal/gateways"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/internal/types"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// MockGateway mock payment gateway
type MockGateway struct {
	mock.Mock
	method types.PaymentMethod
}

func (m *MockGateway) Name() types.PaymentMethod { return m.method }

func (m *MockGateway) WebhookSecret() string { return "whsec_test" }

func (m *MockGateway) CreateRemoteIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.RemoteIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.RemoteIntent), args.Error(1)
}

func (m *MockGateway) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) bool {
	return m.Called(raw, headers, secret).Bool(0)
}

func (m *MockGateway) ParseWebhookEvent(raw []byte, headers http.Header) (*gateways.Event, error) {
	args := m.Called(raw, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.Event), args.Error(1)
}

func (m *MockGateway) CreateRemoteRefund(ctx context.Context, req gateways.RefundRequest) (*gateways.RemoteRefund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateways.RemoteRefund), args.Error(1)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) Publish(ctx context.Context, event dgs.OrderEvent) error {
	return m.Called(ctx, event).Error(0)
}

type MockMailer struct{ mock.Mock }

func (m *MockMailer) SendOrderConfirmation(ctx context.Context, order *dgs.Order) error {
	return m.Called(ctx, order).Error(0)
}

type harness struct {
	repo     dao.Repository
	db       *gorm.DB
	svc      *CheckoutService
	payments *PaymentLedger
	gw       *MockGateway
	locker   *LocalLocker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, db := daotest.NewRepository(t)
	payments, err := NewPaymentLedger(repo, 1)
	require.NoError(t, err)

	inv := NewInventoryAllocator(repo)
	f := NewFulfiller(repo, inv, FulfillerConfig{DownloadTTL: time.Hour, MaxDownloads: 2, DownloadBaseURL: "https://shop.test/"})
	gm := NewGatewayManager()
	gw := &MockGateway{method: types.METHOD_RAZORPAY}
	require.NoError(t, gm.RegisterGateway(gw, 0))

	n := &MockNotifier{}
	n.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	m := &MockMailer{}
	m.On("SendOrderConfirmation", mock.Anything, mock.Anything).Return(nil).Maybe()

	locker := NewLocalLocker()
	svc := NewCheckoutService(repo, payments, f, gm, locker, n, m, CheckoutOptions{})
	return &harness{repo: repo, db: db, svc: svc, payments: payments, gw: gw, locker: locker}
}

func (h *harness) product(t *testing.T, typ dgs.ProductType, price int64) *dgs.Product {
	t.Helper()
	p := &dgs.Product{Name: fmt.Sprintf("%s product", typ), Price: price, Currency: "INR", Type: typ, Active: true}
	require.NoError(t, h.repo.CreateProduct(context.Background(), p))
	return p
}

func (h *harness) stock(t *testing.T, p *dgs.Product, codes ...string) {
	t.Helper()
	var in []StockCode
	for _, c := range codes {
		in = append(in, StockCode{LicenseCode: c})
	}
	_, err := h.svc.AddStock(context.Background(), p.ID, in)
	require.NoError(t, err)
}

func (h *harness) draft(t *testing.T, p *dgs.Product, qty int) *dgs.Order {
	t.Helper()
	o, err := h.svc.CreateOrder(context.Background(), DraftOrderRequest{ProductID: p.ID, Quantity: qty, CustomerEmail: "buyer@example.com"})
	require.NoError(t, err)
	return o
}

// intent 发起支付，远端意图按请求金额返回
func (h *harness) intent(t *testing.T, o *dgs.Order) *IntentResult {
	t.Helper()
	h.gw.On("CreateRemoteIntent", mock.Anything, mock.MatchedBy(func(req gateways.IntentRequest) bool {
		return req.OrderID == o.ID
	})).Return(&gateways.RemoteIntent{RemoteID: fmt.Sprintf("order_R%d", o.ID), ClientSecretOrApprovalURL: "secret"}, nil).Once()
	res, err := h.svc.CreateIntent(context.Background(), IntentRequest{OrderID: o.ID, Method: types.METHOD_RAZORPAY, Currency: "INR"})
	require.NoError(t, err)
	return res
}

func capturedEvent(res *IntentResult, amount int64) *gateways.Event {
	return &gateways.Event{
		EventID:               "evt_" + res.TransactionNumber,
		Type:                  "payment.captured",
		Captured:              true,
		CorrelationID:         res.TransactionNumber,
		OrderID:               res.OrderID,
		ExternalTransactionID: "pay_" + res.TransactionNumber,
		CapturedAmount:        amount,
		Currency:              res.Currency,
		Raw:                   []byte(`{"event":"payment.captured"}`),
	}
}

// deliver 模拟一次已验签的 webhook 投递
func (h *harness) deliver(t *testing.T, ev *gateways.Event) (WebhookOutcome, error) {
	t.Helper()
	body := []byte(ev.EventID)
	h.gw.On("VerifyWebhookSignature", body, mock.Anything, "whsec_test").Return(true).Once()
	h.gw.On("ParseWebhookEvent", body, mock.Anything).Return(ev, nil).Once()
	return h.svc.HandleWebhook(context.Background(), types.METHOD_RAZORPAY, body, http.Header{})
}

// settle 下单并完成支付
func (h *harness) settle(t *testing.T, o *dgs.Order) *IntentResult {
	t.Helper()
	res := h.intent(t, o)
	outcome, err := h.deliver(t, capturedEvent(res, res.Amount))
	require.NoError(t, err)
	require.Equal(t, WebhookSettled, outcome)
	return res
}
