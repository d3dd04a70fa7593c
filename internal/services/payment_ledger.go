package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/internal/types"

	"github.com/bwmarrin/snowflake"
)

// PaymentIntentRequest 没有金额字段，金额只从订单计算
type PaymentIntentRequest struct {
	OrderID   uint
	Method    types.PaymentMethod
	Currency  string
	IPAddress string
}

type PaymentLedger struct {
	repo dao.Repository
	node *snowflake.Node
	now  func() time.Time
}

func NewPaymentLedger(repo dao.Repository, nodeID int64) (*PaymentLedger, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &PaymentLedger{repo: repo, node: node, now: utcNow}, nil
}

// CreatePaymentIntent 以订单权威金额生成 unpaid 支付记录
func (l *PaymentLedger) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*dgs.Payment, error) {
	order, err := l.repo.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(req.Currency)
	if currency != order.Currency {
		return nil, errs.ErrCurrencyMismatch.WithMsg("order %d is priced in %s, not %s", order.ID, order.Currency, currency)
	}

	payment := &dgs.Payment{
		TransactionNumber: l.node.Generate().String(),
		OrderID:           order.ID,
		Amount:            order.AuthoritativeAmount(),
		Currency:          currency,
		Method:            req.Method,
		Status:            dgs.PaymentStatusUnpaid,
		IPAddress:         req.IPAddress,
	}
	if err := l.repo.CreatePayment(ctx, payment); err != nil {
		return nil, err
	}
	return payment, nil
}

// ConfirmPayment unpaid -> paid，重复确认返回 changed=false
func (l *PaymentLedger) ConfirmPayment(ctx context.Context, transactionNumber, externalID string) (*dgs.Payment, bool, error) {
	changed, err := l.repo.MarkPaymentPaid(ctx, transactionNumber, externalID, l.now())
	if err != nil {
		return nil, false, err
	}
	p, err := l.repo.GetPaymentByTransactionNumber(ctx, transactionNumber)
	if err != nil {
		return nil, false, err
	}
	return p, changed, nil
}

// CreateRefundRecord 只写退款记录，不修改支付和订单状态
func (l *PaymentLedger) CreateRefundRecord(ctx context.Context, refund *dgs.Refund) (*dgs.Refund, error) {
	if err := l.repo.CreateRefund(ctx, refund); err != nil {
		return nil, err
	}
	return refund, nil
}

// MarkRefunded paid -> refunded
func (l *PaymentLedger) MarkRefunded(ctx context.Context, paymentID uint) error {
	ok, err := l.repo.MarkPaymentRefunded(ctx, paymentID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrAlreadyRefunded.WithMsg("payment %d is not in paid state", paymentID)
	}
	return nil
}

// FailStale 超时未支付的记录标记为 failed
func (l *PaymentLedger) FailStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return l.repo.FailStalePayments(ctx, l.now().Add(-ttl))
}
