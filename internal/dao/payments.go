package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"gorm.io/gorm"
)

func (d *MysqlRepository) CreatePayment(ctx context.Context, payment *dgs.Payment) error {
	if err := d.conn(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("create payment failed: %w", err)
	}
	return nil
}

func (d *MysqlRepository) GetPaymentByTransactionNumber(ctx context.Context, transactionNumber string) (*dgs.Payment, error) {
	var p dgs.Payment
	err := d.conn(ctx).Where("transaction_number = ?", transactionNumber).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select payment %s failed: %w", transactionNumber, err)
	}
	return &p, nil
}

func (d *MysqlRepository) GetPaymentByRemoteIntentID(ctx context.Context, remoteIntentID string) (*dgs.Payment, error) {
	var p dgs.Payment
	err := d.conn(ctx).Where("remote_intent_id = ?", remoteIntentID).Order("id desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select payment by remote id %s failed: %w", remoteIntentID, err)
	}
	return &p, nil
}

func (d *MysqlRepository) SetPaymentRemoteIntentID(ctx context.Context, paymentID uint, remoteIntentID string) error {
	return d.conn(ctx).Model(&dgs.Payment{}).Where("id = ?", paymentID).Update("remote_intent_id", remoteIntentID).Error
}

// GetSettledPaymentByOrderID 订单的已结算支付记录（paid 或 refunded），优先最新
func (d *MysqlRepository) GetSettledPaymentByOrderID(ctx context.Context, orderID uint) (*dgs.Payment, error) {
	var p dgs.Payment
	err := d.conn(ctx).
		Where("order_id = ? AND status IN ?", orderID, []dgs.PaymentStatus{dgs.PaymentStatusPaid, dgs.PaymentStatusRefunded}).
		Order("id desc").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select payment of order %d failed: %w", orderID, err)
	}
	return &p, nil
}

// MarkPaymentPaid unpaid/failed -> paid，返回 false 表示已被处理过
func (d *MysqlRepository) MarkPaymentPaid(ctx context.Context, transactionNumber, externalID string, paidAt time.Time) (bool, error) {
	res := d.conn(ctx).Model(&dgs.Payment{}).
		Where("transaction_number = ? AND status IN ?", transactionNumber,
			[]dgs.PaymentStatus{dgs.PaymentStatusUnpaid, dgs.PaymentStatusFailed}).
		Updates(map[string]interface{}{
			"status":                  dgs.PaymentStatusPaid,
			"external_transaction_id": externalID,
			"paid_at":                 paidAt,
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark payment %s paid failed: %w", transactionNumber, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkPaymentRefunded paid -> refunded
func (d *MysqlRepository) MarkPaymentRefunded(ctx context.Context, paymentID uint) (bool, error) {
	res := d.conn(ctx).Model(&dgs.Payment{}).
		Where("id = ? AND status = ?", paymentID, dgs.PaymentStatusPaid).
		Update("status", dgs.PaymentStatusRefunded)
	if res.Error != nil {
		return false, fmt.Errorf("mark payment %d refunded failed: %w", paymentID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// FailStalePayments 超时未支付的记录标记为 failed，迟到的回调仍可将其改为 paid
func (d *MysqlRepository) FailStalePayments(ctx context.Context, before time.Time) (int64, error) {
	res := d.conn(ctx).Model(&dgs.Payment{}).
		Where("status = ? AND created_at < ?", dgs.PaymentStatusUnpaid, before).
		Update("status", dgs.PaymentStatusFailed)
	return res.RowsAffected, res.Error
}
