package dao

import (
	"context"
	"time"

	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

// Transactor 事务执行器，fn 内通过 ctx 传递事务，所有仓储方法自动加入
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository 订单相关数据访问接口
type OrderRepository interface {
	CreateOrder(ctx context.Context, order *dgs.Order) error
	GetOrderByID(ctx context.Context, orderID uint) (*dgs.Order, error)
	GetOrdersByUserID(ctx context.Context, userID uint) ([]*dgs.Order, error)

	// 条件更新，只有当前状态在 from 中才会改为 to，返回是否命中
	TransitionOrder(ctx context.Context, orderID uint, from []dgs.OrderStatus, to dgs.OrderStatus, updates map[string]interface{}) (bool, error)
	ApplyOrderPricing(ctx context.Context, orderID uint, couponCode string, discount, subtotal, total int64) (bool, error)
	CountUserCouponOrders(ctx context.Context, userID uint, couponCode string) (int64, error)
}

// ProductRepository 商品目录
type ProductRepository interface {
	CreateProduct(ctx context.Context, product *dgs.Product) error
	GetProductByID(ctx context.Context, productID uint) (*dgs.Product, error)
}

// PaymentRepository 支付记录
type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *dgs.Payment) error
	GetPaymentByTransactionNumber(ctx context.Context, transactionNumber string) (*dgs.Payment, error)
	GetPaymentByRemoteIntentID(ctx context.Context, remoteIntentID string) (*dgs.Payment, error)
	SetPaymentRemoteIntentID(ctx context.Context, paymentID uint, remoteIntentID string) error
	GetSettledPaymentByOrderID(ctx context.Context, orderID uint) (*dgs.Payment, error)
	MarkPaymentPaid(ctx context.Context, transactionNumber, externalID string, paidAt time.Time) (bool, error)
	MarkPaymentRefunded(ctx context.Context, paymentID uint) (bool, error)
	FailStalePayments(ctx context.Context, before time.Time) (int64, error)
}

// RefundRepository 退款记录
type RefundRepository interface {
	CreateRefund(ctx context.Context, refund *dgs.Refund) error
	HasSucceededRefund(ctx context.Context, paymentID uint) (bool, error)
	GetRefundsByOrderID(ctx context.Context, orderID uint) ([]*dgs.Refund, error)
}

// InventoryRepository 卡密库存
type InventoryRepository interface {
	AddInventoryItems(ctx context.Context, items []*dgs.InventoryItem) error
	ClaimInventory(ctx context.Context, productID, orderID uint, n int) ([]*dgs.InventoryItem, error)
	GetInventoryByOrderID(ctx context.Context, orderID uint) ([]*dgs.InventoryItem, error)
	CountAvailable(ctx context.Context, productID uint) (int64, error)
}

// CouponRepository 优惠券
type CouponRepository interface {
	CreateCoupon(ctx context.Context, coupon *dgs.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*dgs.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID uint) (bool, error)
}

// GrantRepository 下载授权
type GrantRepository interface {
	CreateGrants(ctx context.Context, grants []*dgs.DownloadGrant) error
	GetGrantByToken(ctx context.Context, token string) (*dgs.DownloadGrant, error)
	ConsumeGrant(ctx context.Context, grantID uint) (bool, error)
	ExpireGrantsByOrderID(ctx context.Context, orderID uint, at time.Time) error
}

// WebhookEventRepository 网关回调存档
type WebhookEventRepository interface {
	// SaveWebhookEvent 返回 false 表示该事件已经存在
	SaveWebhookEvent(ctx context.Context, event *dgs.WebhookEvent) (bool, error)
}

// Repository 统一的数据访问接口
type Repository interface {
	Transactor
	OrderRepository
	ProductRepository
	PaymentRepository
	RefundRepository
	InventoryRepository
	CouponRepository
	GrantRepository
	WebhookEventRepository

	AutoMigrate(ctx context.Context) error
}
