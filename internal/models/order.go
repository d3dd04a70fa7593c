package dgs

import (
	"time"
)

type OrderStatus string

const (
	OrderStatusCart       OrderStatus = "cart"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// 合法的状态迁移，除此之外的边一律拒绝
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusCart:       {OrderStatusPending},
	OrderStatusPending:    {OrderStatusProcessing},
	OrderStatusProcessing: {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {OrderStatusRefunded},
}

// CanTransition reports whether from→to is a legal order status edge.
func CanTransition(from, to OrderStatus) bool {
	for _, s := range orderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID                uint        `gorm:"primaryKey;autoIncrement;comment:订单ID" json:"id"`
	UserID            *uint       `gorm:"index;comment:下单用户(游客为空)" json:"user_id,omitempty"`
	CustomerEmail     string      `gorm:"type:varchar(255);not null;comment:收货邮箱" json:"customer_email"`
	AccessToken       string      `gorm:"type:varchar(64);not null;default:'';comment:游客访问令牌" json:"-"`
	Quantity          int         `gorm:"not null;comment:商品数量" json:"quantity"`
	Currency          string      `gorm:"type:varchar(3);not null;comment:币种" json:"currency"`
	Amount            int64       `gorm:"not null;comment:优惠前金额(分)" json:"amount"`
	CouponCode        *string     `gorm:"type:varchar(64);index;comment:优惠码" json:"coupon_code,omitempty"`
	DiscountAmount    int64       `gorm:"not null;default:0;comment:优惠金额(分)" json:"discount_amount"`
	SubtotalAmount    *int64      `gorm:"comment:小计(分)" json:"subtotal_amount,omitempty"`
	TotalAmount       *int64      `gorm:"comment:实付金额(分)" json:"total_amount,omitempty"`
	Status            OrderStatus `gorm:"type:varchar(16);not null;index;comment:订单状态" json:"status"`
	FulfillmentResult string      `gorm:"type:text;comment:交付内容" json:"fulfillment_result,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	CompletedAt       *time.Time  `gorm:"comment:完成时间" json:"completed_at,omitempty"`

	Items []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

func (Order) TableName() string {
	return "orders"
}

// AuthoritativeAmount is the only amount ever charged for the order: totalAmount ?? amount.
func (o *Order) AuthoritativeAmount() int64 {
	if o.TotalAmount != nil {
		return *o.TotalAmount
	}
	return o.Amount
}

// PricingBase is the amount coupon minimums are checked against: subtotalAmount ?? amount.
func (o *Order) PricingBase() int64 {
	if o.SubtotalAmount != nil {
		return *o.SubtotalAmount
	}
	return o.Amount
}

// OrderItem 订单项，价格为下单时快照，之后不随商品价格变化
type OrderItem struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint      `gorm:"index;not null" json:"order_id"`
	ProductID uint      `gorm:"index;not null" json:"product_id"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	Price     int64     `gorm:"not null;comment:单价快照(分)" json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}
