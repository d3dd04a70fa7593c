package errs

import (
	"errors"
	"fmt"
)

// Kind 错误分类，HTTP 层据此映射状态码
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindValidation
	KindAmountMismatch
	KindInsufficientInventory
	KindSignatureInvalid
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindInsufficientInventory:
		return "insufficient_inventory"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindGateway:
		return "gateway_error"
	default:
		return "internal"
	}
}

// Error 业务错误。Code 相同即视为同一错误（errors.Is），Msg 可以携带具体原因。
type Error struct {
	Code int
	Kind Kind
	Msg  string
	Err  error
}

func New(code int, kind Kind, msg string) *Error {
	return &Error{Code: code, Kind: kind, Msg: msg}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Wrap returns a copy of e carrying err as its cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

// WithMsg returns a copy of e with a more specific message.
func (e *Error) WithMsg(format string, args ...interface{}) *Error {
	cp := *e
	cp.Msg = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the business code of err, 0 when err carries none.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// 错误码格式：SSMMEE，SS=13 表示 dgshop
//   01: 订单模块
//   02: 支付模块
//   03: 优惠券模块
//   04: 库存与交付模块
//   05: 支付网关

// 订单模块 (130100-130199)
var (
	ErrOrderNotFound      = New(130101, KindNotFound, "order not found")
	ErrProductNotFound    = New(130102, KindNotFound, "product not found")
	ErrInvalidOrderState  = New(130103, KindInvalidState, "invalid order state")
	ErrOrderNotRefundable = New(130104, KindInvalidState, "order is not refundable")
	ErrInvalidQuantity    = New(130105, KindValidation, "quantity must be greater than zero")
	ErrInvalidEmail       = New(130106, KindValidation, "customer email is required")
)

// 支付模块 (130200-130299)
var (
	ErrPaymentNotFound       = New(130201, KindNotFound, "payment not found")
	ErrPaymentAmountMismatch = New(130202, KindAmountMismatch, "payment amount mismatch")
	ErrAlreadyRefunded       = New(130203, KindInvalidState, "payment already refunded")
	ErrCurrencyMismatch      = New(130204, KindValidation, "currency does not match order")
	ErrRefundInProgress      = New(130205, KindInvalidState, "refund already in progress")
)

// 优惠券模块 (130300-130399)
var (
	ErrCouponNotFound  = New(130301, KindNotFound, "coupon not found")
	ErrCouponInvalid   = New(130302, KindValidation, "coupon is not valid")
	ErrCouponExhausted = New(130303, KindValidation, "coupon usage limit reached")
)

// 库存与交付模块 (130400-130499)
var (
	ErrInsufficientInventory = New(130401, KindInsufficientInventory, "insufficient inventory")
	ErrDuplicateLicenseCode  = New(130402, KindValidation, "license code already in stock")
	ErrGrantNotFound         = New(130403, KindNotFound, "download not found")
	ErrGrantExpired          = New(130404, KindInvalidState, "download link expired")
)

// 支付网关 (130500-130599)
var (
	ErrSignatureInvalid = New(130501, KindSignatureInvalid, "invalid webhook signature")
	ErrGatewayFailed    = New(130502, KindGateway, "payment gateway call failed")
	ErrUnknownGateway   = New(130503, KindValidation, "unknown payment method")
	ErrMalformedEvent   = New(130504, KindValidation, "malformed webhook event")
)
