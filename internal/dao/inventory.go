package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

// AddInventoryItems 批量入库，卡密重复时整批失败
func (d *MysqlRepository) AddInventoryItems(ctx context.Context, items []*dgs.InventoryItem) error {
	if len(items) == 0 {
		return nil
	}
	err := d.conn(ctx).Create(items).Error
	if isDuplicateKey(err) {
		return errs.ErrDuplicateLicenseCode.Wrap(err)
	}
	if err != nil {
		return fmt.Errorf("add inventory failed: %w", err)
	}
	return nil
}

// ClaimInventory 为订单分配 n 条未使用的卡密。
// 逐行条件更新 order_id IS NULL，抢输的行加入排除列表后重新选取；
// 候选不足时返回 ErrInsufficientInventory，整个事务回滚，不会留下部分分配。
func (d *MysqlRepository) ClaimInventory(ctx context.Context, productID, orderID uint, n int) ([]*dgs.InventoryItem, error) {
	if n <= 0 {
		return nil, nil
	}
	var claimed []*dgs.InventoryItem
	err := d.InTx(ctx, func(ctx context.Context) error {
		db := d.conn(ctx)
		var skip []uint
		for len(claimed) < n {
			q := db.Where("product_id = ? AND order_id IS NULL", productID)
			if len(skip) > 0 {
				q = q.Where("id NOT IN ?", skip)
			}
			var candidates []*dgs.InventoryItem
			if err := q.Order("id").Limit(n - len(claimed)).Find(&candidates).Error; err != nil {
				return fmt.Errorf("select inventory of product %d failed: %w", productID, err)
			}
			if len(candidates) == 0 {
				return errs.ErrInsufficientInventory.WithMsg("insufficient inventory for product %d: want %d, got %d",
					productID, n, len(claimed))
			}
			now := time.Now()
			for _, item := range candidates {
				res := db.Model(&dgs.InventoryItem{}).
					Where("id = ? AND order_id IS NULL", item.ID).
					Updates(map[string]interface{}{"order_id": orderID, "allocated_at": now})
				if res.Error != nil {
					return fmt.Errorf("claim inventory %d failed: %w", item.ID, res.Error)
				}
				if res.RowsAffected == 0 {
					skip = append(skip, item.ID)
					continue
				}
				oid, at := orderID, now
				item.OrderID, item.AllocatedAt = &oid, &at
				claimed = append(claimed, item)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (d *MysqlRepository) GetInventoryByOrderID(ctx context.Context, orderID uint) (items []*dgs.InventoryItem, err error) {
	err = d.conn(ctx).Where("order_id = ?", orderID).Order("id").Find(&items).Error
	return
}

func (d *MysqlRepository) CountAvailable(ctx context.Context, productID uint) (int64, error) {
	var n int64
	err := d.conn(ctx).Model(&dgs.InventoryItem{}).
		Where("product_id = ? AND order_id IS NULL", productID).
		Count(&n).Error
	return n, err
}
