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

func (d *MysqlRepository) CreateGrants(ctx context.Context, grants []*dgs.DownloadGrant) error {
	if len(grants) == 0 {
		return nil
	}
	return d.conn(ctx).Create(grants).Error
}

func (d *MysqlRepository) GetGrantByToken(ctx context.Context, token string) (*dgs.DownloadGrant, error) {
	var g dgs.DownloadGrant
	err := d.conn(ctx).Where("token = ?", token).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select grant failed: %w", err)
	}
	return &g, nil
}

// ConsumeGrant 剩余次数减一，次数用尽或已撤销时返回 false
func (d *MysqlRepository) ConsumeGrant(ctx context.Context, grantID uint) (bool, error) {
	res := d.conn(ctx).Model(&dgs.DownloadGrant{}).
		Where("id = ? AND downloads_remaining > 0 AND revoked_at IS NULL", grantID).
		Update("downloads_remaining", gorm.Expr("downloads_remaining - 1"))
	if res.Error != nil {
		return false, fmt.Errorf("consume grant %d failed: %w", grantID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ExpireGrantsByOrderID 退款或取消后撤销订单的所有下载授权
func (d *MysqlRepository) ExpireGrantsByOrderID(ctx context.Context, orderID uint, at time.Time) error {
	return d.conn(ctx).Model(&dgs.DownloadGrant{}).
		Where("order_id = ? AND revoked_at IS NULL", orderID).
		Updates(map[string]interface{}{"revoked_at": at, "expires_at": at}).Error
}
