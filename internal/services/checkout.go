package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/errs"
	"github.com/Daneel-Li/dgshop/internal/gateways"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/internal/types"
	"github.com/Daneel-Li/dgshop/pkg/utils"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type IntentRequest struct {
	OrderID   uint                `json:"-"`
	Method    types.PaymentMethod `json:"method"`
	Currency  string              `json:"currency"`
	IPAddress string              `json:"-"`
}

type IntentResult struct {
	OrderID                   uint                `json:"order_id"`
	TransactionNumber         string              `json:"transaction_number"`
	Method                    types.PaymentMethod `json:"method"`
	Amount                    int64               `json:"amount"`
	Currency                  string              `json:"currency"`
	RemoteID                  string              `json:"remote_id"`
	ClientSecretOrApprovalURL string              `json:"client_secret_or_approval_url"`
}

type WebhookOutcome string

const (
	WebhookSettled   WebhookOutcome = "settled"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
)

type DownloadResult struct {
	Grant   *dgs.DownloadGrant
	Product *dgs.Product
}

type CheckoutOptions struct {
	RefundLockTTL  time.Duration
	GatewayTimeout time.Duration
	PoolSize       int32
}

// CheckoutService 结算编排：下单、发起支付、回调结算、退款
type CheckoutService struct {
	repo      dao.Repository
	orders    *OrderLedger
	payments  *PaymentLedger
	coupons   *CouponEngine
	inventory *InventoryAllocator
	fulfiller *Fulfiller
	gateways  *GatewayManager
	locker    Locker
	notifier  Notifier
	mailer    Mailer
	pool      gopool.Pool
	opts      CheckoutOptions
	now       func() time.Time
}

func NewCheckoutService(repo dao.Repository, payments *PaymentLedger, fulfiller *Fulfiller, gm *GatewayManager,
	locker Locker, notifier Notifier, mailer Mailer, opts CheckoutOptions) *CheckoutService {
	if opts.RefundLockTTL <= 0 {
		opts.RefundLockTTL = 30 * time.Second
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 15 * time.Second
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 200
	}
	return &CheckoutService{
		repo:      repo,
		orders:    NewOrderLedger(repo),
		payments:  payments,
		coupons:   NewCouponEngine(repo),
		inventory: fulfiller.inventory,
		fulfiller: fulfiller,
		gateways:  gm,
		locker:    locker,
		notifier:  notifier,
		mailer:    mailer,
		pool:      gopool.NewPool("checkout_notify", opts.PoolSize, gopool.NewConfig()),
		opts:      opts,
		now:       utcNow,
	}
}

func (s *CheckoutService) CreateOrder(ctx context.Context, req DraftOrderRequest) (*dgs.Order, error) {
	return s.orders.CreateDraftOrder(ctx, req)
}

func (s *CheckoutService) GetOrder(ctx context.Context, orderID uint) (*dgs.Order, error) {
	return s.orders.GetOrder(ctx, orderID)
}

// ListUserOrders 登录用户的历史订单
func (s *CheckoutService) ListUserOrders(ctx context.Context, userID uint) ([]*dgs.Order, error) {
	return s.orders.ListUserOrders(ctx, userID)
}

// ApplyCoupon 校验、计算折扣、写入价格和使用次数在同一事务内完成
func (s *CheckoutService) ApplyCoupon(ctx context.Context, orderID uint, code string, userID *uint) (*dgs.Order, error) {
	var order *dgs.Order
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != dgs.OrderStatusCart {
			return errs.ErrInvalidOrderState.WithMsg("coupons can only be applied before checkout")
		}
		if o.CouponCode != nil && *o.CouponCode != "" {
			return errs.ErrCouponInvalid.WithMsg("%s", ReasonCouponAlreadyOnCart)
		}
		coupon, err := s.repo.GetCouponByCode(ctx, code)
		if err != nil {
			return err
		}
		if userID == nil {
			userID = o.UserID
		}
		v, err := s.coupons.ValidateCouponForCart(ctx, coupon, o, userID)
		if err != nil {
			return err
		}
		if !v.Valid {
			return errs.ErrCouponInvalid.WithMsg("%s", v.Reason)
		}

		discount, total := ApplyCouponToAmount(o.Amount, coupon)
		if err := s.coupons.IncrementCouponUsage(ctx, coupon.ID); err != nil {
			return err
		}
		ok, err := s.repo.ApplyOrderPricing(ctx, o.ID, coupon.Code, discount, o.Amount, total)
		if err != nil {
			return err
		}
		if !ok {
			return errs.ErrInvalidOrderState.WithMsg("order %d left cart state", o.ID)
		}
		order, err = s.repo.GetOrderByID(ctx, o.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("coupon applied", "order_id", order.ID, "coupon", utils.Deref(order.CouponCode, ""),
		"discount", order.DiscountAmount, "total", order.AuthoritativeAmount())
	return order, nil
}

// CreateIntent 金额只取订单权威金额，远端意图与支付记录金额一致
func (s *CheckoutService) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	gw, err := s.gateways.GetGateway(req.Method)
	if err != nil {
		return nil, err
	}
	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(req.Currency, order.Currency) {
		return nil, errs.ErrCurrencyMismatch.WithMsg("order %d is priced in %s", order.ID, order.Currency)
	}
	if order.Status != dgs.OrderStatusCart && order.Status != dgs.OrderStatusPending {
		return nil, errs.ErrInvalidOrderState.WithMsg("order %d is %s, cannot start payment", order.ID, order.Status)
	}
	if order, err = s.orders.Submit(ctx, order.ID); err != nil {
		return nil, err
	}

	payment, err := s.payments.CreatePaymentIntent(ctx, PaymentIntentRequest{
		OrderID:   order.ID,
		Method:    req.Method,
		Currency:  req.Currency,
		IPAddress: req.IPAddress,
	})
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	defer cancel()
	remote, err := gw.CreateRemoteIntent(gctx, gateways.IntentRequest{
		AmountMinor:   payment.Amount,
		Currency:      payment.Currency,
		CorrelationID: payment.TransactionNumber,
		OrderID:       order.ID,
		Description:   fmt.Sprintf("Order #%d", order.ID),
	})
	if err != nil {
		slog.Error("create remote intent failed", "order_id", order.ID, "method", req.Method, "error", err)
		if !errors.Is(err, errs.ErrGatewayFailed) {
			err = errs.ErrGatewayFailed.Wrap(err)
		}
		return nil, err
	}
	if err := s.repo.SetPaymentRemoteIntentID(ctx, payment.ID, remote.RemoteID); err != nil {
		return nil, err
	}

	// 价格在发起支付期间被修改属于程序错误
	current, err := s.orders.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if current.AuthoritativeAmount() != payment.Amount {
		slog.Error("payment amount diverged from order", "order_id", order.ID,
			"payment_amount", payment.Amount, "order_amount", current.AuthoritativeAmount())
		return nil, errs.ErrPaymentAmountMismatch
	}

	slog.Info("payment intent created", "order_id", order.ID, "transaction_number", payment.TransactionNumber,
		"method", req.Method, "amount", payment.Amount)
	return &IntentResult{
		OrderID:                   order.ID,
		TransactionNumber:         payment.TransactionNumber,
		Method:                    req.Method,
		Amount:                    payment.Amount,
		Currency:                  payment.Currency,
		RemoteID:                  remote.RemoteID,
		ClientSecretOrApprovalURL: remote.ClientSecretOrApprovalURL,
	}, nil
}

// HandleWebhook 先验签再解析；结算（确认支付、标记已付、交付）在一个事务内完成，
// 重复投递命中支付状态条件更新后直接返回
func (s *CheckoutService) HandleWebhook(ctx context.Context, method types.PaymentMethod, raw []byte, headers http.Header) (WebhookOutcome, error) {
	gw, err := s.gateways.GetGateway(method)
	if err != nil {
		return "", err
	}
	if !gw.VerifyWebhookSignature(raw, headers, gw.WebhookSecret()) {
		slog.Warn("webhook signature rejected", "method", method)
		return "", errs.ErrSignatureInvalid
	}
	ev, err := gw.ParseWebhookEvent(raw, headers)
	if err != nil {
		return "", err
	}
	if !ev.Captured {
		s.archiveEvent(ctx, method, ev, "")
		slog.Info("webhook event ignored", "method", method, "event_id", ev.EventID, "type", ev.Type)
		return WebhookIgnored, nil
	}

	payment, err := s.findPayment(ctx, ev)
	if err != nil {
		return "", err
	}
	if payment.Method != method {
		return "", errs.ErrMalformedEvent.WithMsg("payment %s was not made with %s", payment.TransactionNumber, method)
	}
	if ev.OrderID != 0 && ev.OrderID != payment.OrderID {
		return "", errs.ErrMalformedEvent.WithMsg("event order %d does not match payment", ev.OrderID)
	}

	order, err := s.orders.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return "", err
	}
	authoritative := order.AuthoritativeAmount()
	if ev.CapturedAmount != authoritative || payment.Amount != authoritative ||
		(ev.Currency != "" && !strings.EqualFold(ev.Currency, order.Currency)) {
		slog.Error("captured amount mismatch, settlement rejected", "order_id", order.ID,
			"transaction_number", payment.TransactionNumber, "captured", ev.CapturedAmount,
			"captured_currency", ev.Currency, "expected", authoritative, "currency", order.Currency)
		return "", errs.ErrPaymentAmountMismatch
	}

	products, err := s.fulfiller.ResolveProducts(ctx, order.Items)
	if err != nil {
		return "", err
	}

	var settled, orphaned *dgs.Order
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		_, changed, err := s.payments.ConfirmPayment(ctx, payment.TransactionNumber, ev.ExternalTransactionID)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		s.archiveEvent(ctx, method, ev, payment.TransactionNumber)

		paid, err := s.orders.MarkPaid(ctx, order.ID)
		if err != nil {
			return err
		}
		if paid.Status != dgs.OrderStatusProcessing {
			// 订单已被另一笔支付结算：这笔保留为已付款，应答网关结束重试，人工退款
			orphaned = paid
			return nil
		}
		text, err := s.fulfiller.Fulfill(ctx, paid, products)
		if err != nil {
			return err
		}
		settled, err = s.orders.FulfillOrder(ctx, order.ID, text)
		return err
	})
	if err != nil {
		slog.Error("settlement failed", "order_id", order.ID, "transaction_number", payment.TransactionNumber, "error", err)
		return "", err
	}
	if orphaned != nil {
		slog.Error("extra capture for settled order, manual refund required", "order_id", order.ID,
			"order_status", orphaned.Status, "transaction_number", payment.TransactionNumber,
			"external_id", ev.ExternalTransactionID, "amount", ev.CapturedAmount)
		return WebhookIgnored, nil
	}
	if settled == nil {
		slog.Info("webhook redelivery ignored", "order_id", order.ID, "event_id", ev.EventID)
		return WebhookDuplicate, nil
	}

	slog.Info("order settled", "order_id", settled.ID, "transaction_number", payment.TransactionNumber,
		"external_id", ev.ExternalTransactionID, "amount", authoritative)
	s.afterSettle(settled)
	return WebhookSettled, nil
}

func (s *CheckoutService) findPayment(ctx context.Context, ev *gateways.Event) (*dgs.Payment, error) {
	if ev.CorrelationID == "" {
		return nil, errs.ErrMalformedEvent.WithMsg("event %s carries no payment reference", ev.EventID)
	}
	p, err := s.repo.GetPaymentByTransactionNumber(ctx, ev.CorrelationID)
	if errors.Is(err, errs.ErrPaymentNotFound) {
		return s.repo.GetPaymentByRemoteIntentID(ctx, ev.CorrelationID)
	}
	return p, err
}

// archiveEvent 存档失败只记日志
func (s *CheckoutService) archiveEvent(ctx context.Context, method types.PaymentMethod, ev *gateways.Event, tn string) {
	inserted, err := s.repo.SaveWebhookEvent(ctx, &dgs.WebhookEvent{
		Provider:          method,
		EventID:           ev.EventID,
		EventType:         ev.Type,
		TransactionNumber: tn,
		Payload:           datatypes.JSON(ev.Raw),
	})
	if err != nil {
		slog.Warn("archive webhook event failed", "method", method, "event_id", ev.EventID, "error", err)
		return
	}
	if !inserted {
		slog.Debug("webhook event already archived", "method", method, "event_id", ev.EventID)
	}
}

// afterSettle 确认邮件和事件推送都是尽力而为
func (s *CheckoutService) afterSettle(order *dgs.Order) {
	s.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.mailer.SendOrderConfirmation(ctx, order); err != nil {
			slog.Warn("send order confirmation failed", "order_id", order.ID, "error", err)
		}
	})
	s.publish(order, dgs.EventOrderPaid)
	s.publish(order, dgs.EventOrderCompleted)
}

func (s *CheckoutService) publish(order *dgs.Order, typ dgs.OrderEventType) {
	if s.notifier == nil {
		return
	}
	event := dgs.OrderEvent{
		Type:       typ,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Amount:     order.AuthoritativeAmount(),
		Currency:   order.Currency,
		OccurredAt: s.now(),
	}
	s.pool.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.notifier.Publish(ctx, event); err != nil {
			slog.Warn("publish order event failed", "order_id", event.OrderID, "type", event.Type, "error", err)
		}
	})
}

// RequestRefund 同一订单的退款串行执行；网关失败记录 failed 退款单，订单和支付不变
func (s *CheckoutService) RequestRefund(ctx context.Context, orderID uint, reason string) (*dgs.Refund, error) {
	unlock, err := s.locker.Obtain(ctx, fmt.Sprintf("dgshop:refund:order:%d", orderID), s.opts.RefundLockTTL)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			return nil, errs.ErrRefundInProgress
		}
		return nil, err
	}
	defer unlock()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch order.Status {
	case dgs.OrderStatusCompleted, dgs.OrderStatusProcessing:
	case dgs.OrderStatusRefunded:
		return nil, errs.ErrAlreadyRefunded.WithMsg("order %d is already refunded", orderID)
	default:
		return nil, errs.ErrOrderNotRefundable.WithMsg("order %d is %s", orderID, order.Status)
	}

	payment, err := s.repo.GetSettledPaymentByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if payment.Status == dgs.PaymentStatusRefunded {
		return nil, errs.ErrAlreadyRefunded
	}
	done, err := s.repo.HasSucceededRefund(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, errs.ErrAlreadyRefunded
	}

	gw, err := s.gateways.GetGateway(payment.Method)
	if err != nil {
		return nil, err
	}
	amount := order.AuthoritativeAmount()
	refund := &dgs.Refund{
		RefundNumber: strings.ReplaceAll(uuid.New().String(), "-", ""),
		PaymentID:    payment.ID,
		OrderID:      order.ID,
		Amount:       amount,
		Currency:     order.Currency,
		Provider:     payment.Method,
		Reason:       reason,
	}

	gctx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	remote, gwErr := gw.CreateRemoteRefund(gctx, gateways.RefundRequest{
		RemoteChargeID: payment.ExternalTransactionID,
		AmountMinor:    amount,
		Currency:       order.Currency,
		Reason:         reason,
		RefundNo:       refund.RefundNumber,
	})
	cancel()
	if gwErr == nil && remote.Status == gateways.RefundFailed {
		gwErr = fmt.Errorf("provider declined refund %s", remote.RemoteRefundID)
	}
	if gwErr != nil {
		refund.Status = dgs.RefundStatusFailed
		refund.ErrorMessage = truncate(gwErr.Error(), 500)
		if remote != nil {
			refund.ProviderResponse = datatypes.JSON(remote.Raw)
		}
		if _, err := s.payments.CreateRefundRecord(ctx, refund); err != nil {
			slog.Error("record failed refund", "order_id", orderID, "error", err)
		}
		slog.Error("refund failed at gateway", "order_id", orderID, "method", payment.Method, "error", gwErr)
		if errors.Is(gwErr, errs.ErrGatewayFailed) {
			return nil, gwErr
		}
		return nil, errs.ErrGatewayFailed.Wrap(gwErr)
	}

	refund.Status = dgs.RefundStatusSucceeded
	if remote.Status == gateways.RefundPending {
		refund.Status = dgs.RefundStatusPending
	}
	if remote.RemoteRefundID != "" {
		id := remote.RemoteRefundID
		refund.ProviderRefundID = &id
	}
	refund.ProviderResponse = datatypes.JSON(remote.Raw)

	var refunded *dgs.Order
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.payments.CreateRefundRecord(ctx, refund); err != nil {
			return err
		}
		if err := s.payments.MarkRefunded(ctx, payment.ID); err != nil {
			return err
		}
		refunded, err = s.orders.MarkOrderRefunded(ctx, order.ID)
		return err
	})
	if err != nil {
		// 网关已退款但本地未落库，需要人工核对
		slog.Error("refund accepted by gateway but not recorded", "order_id", orderID,
			"refund_number", refund.RefundNumber, "provider_refund_id", remote.RemoteRefundID, "error", err)
		return nil, err
	}

	slog.Info("order refunded", "order_id", orderID, "status", refunded.Status, "amount", amount,
		"refund_number", refund.RefundNumber)
	s.publish(refunded, dgs.EventOrderRefunded)
	return refund, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ResolveDownload 校验授权是否有效并扣减一次下载次数
func (s *CheckoutService) ResolveDownload(ctx context.Context, token string) (*DownloadResult, error) {
	grant, err := s.liveGrant(ctx, token)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.ConsumeGrant(ctx, grant.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrGrantExpired
	}
	product, err := s.repo.GetProductByID(ctx, grant.ProductID)
	if err != nil {
		return nil, err
	}
	grant.DownloadsRemaining--
	return &DownloadResult{Grant: grant, Product: product}, nil
}

// PeekDownload 只校验授权，不扣减次数；用于 HEAD 和断点续传的后续分段
func (s *CheckoutService) PeekDownload(ctx context.Context, token string) (*DownloadResult, error) {
	grant, err := s.liveGrant(ctx, token)
	if err != nil {
		return nil, err
	}
	product, err := s.repo.GetProductByID(ctx, grant.ProductID)
	if err != nil {
		return nil, err
	}
	return &DownloadResult{Grant: grant, Product: product}, nil
}

func (s *CheckoutService) liveGrant(ctx context.Context, token string) (*dgs.DownloadGrant, error) {
	grant, err := s.repo.GetGrantByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !grant.Live(s.now()) {
		return nil, errs.ErrGrantExpired
	}
	return grant, nil
}

func (s *CheckoutService) AddStock(ctx context.Context, productID uint, codes []StockCode) (int, error) {
	return s.inventory.AddStock(ctx, productID, codes)
}

func (s *CheckoutService) Stock(ctx context.Context, productID uint) (int64, error) {
	return s.inventory.Stock(ctx, productID)
}
