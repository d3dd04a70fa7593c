package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"github.com/google/uuid"
)

type DraftOrderRequest struct {
	ProductID     uint   `json:"product_id"`
	Quantity      int    `json:"quantity"`
	CustomerEmail string `json:"customer_email"`
	UserID        *uint  `json:"-"`
}

// OrderLedger 订单状态机，所有状态变更都是条件更新
type OrderLedger struct {
	repo dao.Repository
	now  func() time.Time
}

func NewOrderLedger(repo dao.Repository) *OrderLedger {
	return &OrderLedger{repo: repo, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// CreateDraftOrder 按目录价格生成 cart 状态订单，订单与订单项同一事务写入。
// AccessToken 只在创建时返回给下单方，游客凭它查看和支付订单
func (l *OrderLedger) CreateDraftOrder(ctx context.Context, req DraftOrderRequest) (*dgs.Order, error) {
	if req.Quantity < 1 {
		return nil, errs.ErrInvalidQuantity
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.ErrInvalidEmail.Wrap(err)
	}

	product, err := l.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, errs.ErrProductNotFound.WithMsg("product %d is not available", req.ProductID)
	}

	order := &dgs.Order{
		UserID:        req.UserID,
		CustomerEmail: email,
		AccessToken:   strings.ReplaceAll(uuid.New().String(), "-", ""),
		Quantity:      req.Quantity,
		Currency:      strings.ToUpper(product.Currency),
		Amount:        product.Price * int64(req.Quantity),
		Status:        dgs.OrderStatusCart,
		Items: []dgs.OrderItem{{
			ProductID: product.ID,
			Quantity:  req.Quantity,
			Price:     product.Price,
		}},
	}
	err = l.repo.InTx(ctx, func(ctx context.Context) error {
		return l.repo.CreateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("draft order created", "order_id", order.ID, "product_id", product.ID, "amount", order.Amount)
	return order, nil
}

func (l *OrderLedger) GetOrder(ctx context.Context, orderID uint) (*dgs.Order, error) {
	return l.repo.GetOrderByID(ctx, orderID)
}

func (l *OrderLedger) ListUserOrders(ctx context.Context, userID uint) ([]*dgs.Order, error) {
	return l.repo.GetOrdersByUserID(ctx, userID)
}

// transition 只允许状态机中存在的边
func (l *OrderLedger) transition(ctx context.Context, orderID uint, from, to dgs.OrderStatus,
	updates map[string]interface{}) (bool, error) {
	if !dgs.CanTransition(from, to) {
		return false, fmt.Errorf("illegal order transition %s -> %s", from, to)
	}
	return l.repo.TransitionOrder(ctx, orderID, []dgs.OrderStatus{from}, to, updates)
}

// Submit cart -> pending；已经是 pending 的订单允许再次发起支付
func (l *OrderLedger) Submit(ctx context.Context, orderID uint) (*dgs.Order, error) {
	if _, err := l.transition(ctx, orderID, dgs.OrderStatusCart, dgs.OrderStatusPending, nil); err != nil {
		return nil, err
	}
	order, err := l.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != dgs.OrderStatusPending {
		return nil, errs.ErrInvalidOrderState.WithMsg("order %d is %s, cannot start payment", orderID, order.Status)
	}
	return order, nil
}

// MarkPaid pending -> processing；其他状态不做修改，原样返回
func (l *OrderLedger) MarkPaid(ctx context.Context, orderID uint) (*dgs.Order, error) {
	if _, err := l.transition(ctx, orderID, dgs.OrderStatusPending, dgs.OrderStatusProcessing, nil); err != nil {
		return nil, err
	}
	return l.repo.GetOrderByID(ctx, orderID)
}

// FulfillOrder 一次写入交付内容、completed 状态和完成时间
func (l *OrderLedger) FulfillOrder(ctx context.Context, orderID uint, text string) (*dgs.Order, error) {
	ok, err := l.transition(ctx, orderID, dgs.OrderStatusProcessing, dgs.OrderStatusCompleted,
		map[string]interface{}{"fulfillment_result": text, "completed_at": l.now()})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrInvalidOrderState.WithMsg("order %d is not processing", orderID)
	}
	return l.repo.GetOrderByID(ctx, orderID)
}

// MarkOrderRefunded completed -> refunded，并撤销下载授权。
// processing 订单没有到 refunded 的边，走 processing -> cancelled。
func (l *OrderLedger) MarkOrderRefunded(ctx context.Context, orderID uint) (*dgs.Order, error) {
	var order *dgs.Order
	err := l.repo.InTx(ctx, func(ctx context.Context) error {
		ok, err := l.transition(ctx, orderID, dgs.OrderStatusCompleted, dgs.OrderStatusRefunded, nil)
		if err != nil {
			return err
		}
		if !ok {
			ok, err = l.transition(ctx, orderID, dgs.OrderStatusProcessing, dgs.OrderStatusCancelled, nil)
			if err != nil {
				return err
			}
		}
		if !ok {
			return errs.ErrOrderNotRefundable.WithMsg("order %d cannot be refunded in its current state", orderID)
		}
		if err := l.repo.ExpireGrantsByOrderID(ctx, orderID, l.now()); err != nil {
			return fmt.Errorf("expire grants of order %d: %w", orderID, err)
		}
		order, err = l.repo.GetOrderByID(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}
