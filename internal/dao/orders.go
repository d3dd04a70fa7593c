package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"gorm.io/gorm"
)

// CreateOrder 订单和订单项在同一条语句链中写入
func (d *MysqlRepository) CreateOrder(ctx context.Context, order *dgs.Order) error {
	if err := d.conn(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order failed: %w", err)
	}
	return nil
}

// GetOrderByID 根据ID获取订单
func (d *MysqlRepository) GetOrderByID(ctx context.Context, orderID uint) (*dgs.Order, error) {
	var order dgs.Order
	err := d.conn(ctx).Preload("Items").Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select order %d failed: %w", orderID, err)
	}
	return &order, nil
}

func (d *MysqlRepository) GetOrdersByUserID(ctx context.Context, userID uint) (orders []*dgs.Order, err error) {
	err = d.conn(ctx).Preload("Items").Where("user_id = ?", userID).Order("id desc").Find(&orders).Error
	return
}

// TransitionOrder 状态条件更新，并发下只有一个调用者能命中
func (d *MysqlRepository) TransitionOrder(ctx context.Context, orderID uint, from []dgs.OrderStatus, to dgs.OrderStatus,
	updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := d.conn(ctx).Model(&dgs.Order{}).
		Where("id = ? AND status IN ?", orderID, from).
		Updates(values)
	if res.Error != nil {
		return false, fmt.Errorf("update order %d status to %s failed: %w", orderID, to, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ApplyOrderPricing 只允许在 cart 状态写入价格
func (d *MysqlRepository) ApplyOrderPricing(ctx context.Context, orderID uint, couponCode string,
	discount, subtotal, total int64) (bool, error) {
	res := d.conn(ctx).Model(&dgs.Order{}).
		Where("id = ? AND status = ?", orderID, dgs.OrderStatusCart).
		Updates(map[string]interface{}{
			"coupon_code":     couponCode,
			"discount_amount": discount,
			"subtotal_amount": subtotal,
			"total_amount":    total,
		})
	if res.Error != nil {
		return false, fmt.Errorf("apply pricing to order %d failed: %w", orderID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// CountUserCouponOrders 用户已使用某优惠码的订单数，只统计 pending/processing/completed
func (d *MysqlRepository) CountUserCouponOrders(ctx context.Context, userID uint, couponCode string) (int64, error) {
	var n int64
	err := d.conn(ctx).Model(&dgs.Order{}).
		Where("user_id = ? AND coupon_code = ? AND status IN ?", userID, couponCode, []dgs.OrderStatus{
			dgs.OrderStatusPending, dgs.OrderStatusProcessing, dgs.OrderStatusCompleted,
		}).
		Count(&n).Error
	return n, err
}
