package dgs

import "time"

type OrderEventType string

const (
	EventOrderPaid      OrderEventType = "order.paid"
	EventOrderCompleted OrderEventType = "order.completed"
	EventOrderRefunded  OrderEventType = "order.refunded"
)

// OrderEvent 订单生命周期事件，推送到 MQTT 和 websocket
type OrderEvent struct {
	Type       OrderEventType `json:"type"`
	OrderID    uint           `json:"order_id"`
	UserID     *uint          `json:"user_id,omitempty"`
	Status     OrderStatus    `json:"status"`
	Amount     int64          `json:"amount"`
	Currency   string         `json:"currency"`
	OccurredAt time.Time      `json:"occurred_at"`
}
