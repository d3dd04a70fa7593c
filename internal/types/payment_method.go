package types

// PaymentMethod 支付渠道，订单支付记录中保存，用于选择网关适配器
type PaymentMethod string

const (
	METHOD_WECHATPAY PaymentMethod = "wechatpay"
	METHOD_RAZORPAY  PaymentMethod = "razorpay"
)

func (m PaymentMethod) Valid() bool {
	return m == METHOD_WECHATPAY || m == METHOD_RAZORPAY
}
