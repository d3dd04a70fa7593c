package dao

import (
	"context"
	"fmt"

	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

func (d *MysqlRepository) CreateRefund(ctx context.Context, refund *dgs.Refund) error {
	if err := d.conn(ctx).Create(refund).Error; err != nil {
		return fmt.Errorf("create refund failed: %w", err)
	}
	return nil
}

func (d *MysqlRepository) HasSucceededRefund(ctx context.Context, paymentID uint) (bool, error) {
	var n int64
	err := d.conn(ctx).Model(&dgs.Refund{}).
		Where("payment_id = ? AND status = ?", paymentID, dgs.RefundStatusSucceeded).
		Count(&n).Error
	return n > 0, err
}

func (d *MysqlRepository) GetRefundsByOrderID(ctx context.Context, orderID uint) (refunds []*dgs.Refund, err error) {
	err = d.conn(ctx).Where("order_id = ?", orderID).Order("id").Find(&refunds).Error
	return
}
