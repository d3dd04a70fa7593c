package dgs

import (
	"strings"
	"time"
)

type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

type Coupon struct {
	ID             uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Code           string     `gorm:"uniqueIndex;type:varchar(64);not null" json:"code"`
	Type           CouponType `gorm:"type:varchar(16);not null" json:"type"`
	Amount         int64      `gorm:"not null;comment:百分比或固定金额(分)" json:"amount"`
	Currency       *string    `gorm:"type:varchar(3);comment:限定币种,空为不限" json:"currency,omitempty"`
	MaxUses        int        `gorm:"not null;default:0;comment:0为不限" json:"max_uses"`
	UsedCount      int        `gorm:"not null;default:0" json:"used_count"`
	PerUserLimit   int        `gorm:"not null;default:0;comment:0为不限" json:"per_user_limit"`
	MinOrderAmount int64      `gorm:"not null;default:0" json:"min_order_amount"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	IsActive       bool       `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Coupon) TableName() string {
	return "coupons"
}

// NormalizeCouponCode 优惠码统一大写存储和查询
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
