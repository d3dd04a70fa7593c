package services

import (
	"context"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

// 校验失败原因，直接展示给用户
const (
	ReasonCouponInactive      = "This coupon is no longer active."
	ReasonCouponNotStarted    = "This coupon is not valid yet."
	ReasonCouponExpired       = "This coupon has expired."
	ReasonCouponUsageLimit    = "This coupon has reached its usage limit."
	ReasonCouponPerUserLimit  = "You have already used this coupon."
	ReasonCouponMinimum       = "Your order does not meet the minimum amount for this coupon."
	ReasonCouponCurrency      = "This coupon cannot be used with this currency."
	ReasonCouponAlreadyOnCart = "A coupon has already been applied to this order."
)

type CouponValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

type CouponEngine struct {
	repo dao.Repository
	now  func() time.Time
}

func NewCouponEngine(repo dao.Repository) *CouponEngine {
	return &CouponEngine{repo: repo, now: utcNow}
}

// ValidateCouponForCart 检查顺序固定：启用 → 时间窗口 → 总次数 → 用户次数 → 最低金额，
// 第一个失败项直接返回其原因
func (e *CouponEngine) ValidateCouponForCart(ctx context.Context, coupon *dgs.Coupon, order *dgs.Order, userID *uint) (CouponValidation, error) {
	if !coupon.IsActive {
		return CouponValidation{Reason: ReasonCouponInactive}, nil
	}
	now := e.now()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return CouponValidation{Reason: ReasonCouponNotStarted}, nil
	}
	if coupon.EndsAt != nil && now.After(*coupon.EndsAt) {
		return CouponValidation{Reason: ReasonCouponExpired}, nil
	}
	if coupon.MaxUses > 0 && coupon.UsedCount >= coupon.MaxUses {
		return CouponValidation{Reason: ReasonCouponUsageLimit}, nil
	}
	if coupon.PerUserLimit > 0 && userID != nil {
		used, err := e.repo.CountUserCouponOrders(ctx, *userID, coupon.Code)
		if err != nil {
			return CouponValidation{}, err
		}
		if used >= int64(coupon.PerUserLimit) {
			return CouponValidation{Reason: ReasonCouponPerUserLimit}, nil
		}
	}
	if order.PricingBase() < coupon.MinOrderAmount {
		return CouponValidation{Reason: ReasonCouponMinimum}, nil
	}
	if coupon.Currency != nil && *coupon.Currency != "" && !strings.EqualFold(*coupon.Currency, order.Currency) {
		return CouponValidation{Reason: ReasonCouponCurrency}, nil
	}
	return CouponValidation{Valid: true}, nil
}

// ApplyCouponToAmount 百分比向下取整，折扣不超过原价，总价不为负
func ApplyCouponToAmount(amount int64, coupon *dgs.Coupon) (discount, total int64) {
	switch coupon.Type {
	case dgs.CouponTypePercentage:
		discount = amount * coupon.Amount / 100
	case dgs.CouponTypeFixed:
		discount = coupon.Amount
	}
	if discount > amount {
		discount = amount
	}
	if discount < 0 {
		discount = 0
	}
	total = amount - discount
	if total < 0 {
		total = 0
	}
	return discount, total
}

// IncrementCouponUsage 只增不减，退款也不回退
func (e *CouponEngine) IncrementCouponUsage(ctx context.Context, couponID uint) error {
	ok, err := e.repo.IncrementCouponUsage(ctx, couponID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrCouponExhausted
	}
	return nil
}
