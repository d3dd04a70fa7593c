package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"gorm.io/gorm"
)

func (d *MysqlRepository) CreateCoupon(ctx context.Context, coupon *dgs.Coupon) error {
	coupon.Code = dgs.NormalizeCouponCode(coupon.Code)
	return d.conn(ctx).Create(coupon).Error
}

func (d *MysqlRepository) GetCouponByCode(ctx context.Context, code string) (*dgs.Coupon, error) {
	var c dgs.Coupon
	err := d.conn(ctx).Where("code = ?", dgs.NormalizeCouponCode(code)).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrCouponNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select coupon %s failed: %w", code, err)
	}
	return &c, nil
}

// IncrementCouponUsage used_count+1，仅在未达上限时生效（max_uses=0 不限）
func (d *MysqlRepository) IncrementCouponUsage(ctx context.Context, couponID uint) (bool, error) {
	res := d.conn(ctx).Model(&dgs.Coupon{}).
		Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", couponID).
		Update("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, fmt.Errorf("increment coupon %d usage failed: %w", couponID, res.Error)
	}
	return res.RowsAffected == 1, nil
}
