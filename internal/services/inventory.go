package services

import (
	"context"
	"strings"

	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
)

type StockCode struct {
	LicenseCode string  `json:"license_code"`
	Password    *string `json:"password,omitempty"`
}

// InventoryAllocator 卡密分配，一条卡密只会分配给一个订单
type InventoryAllocator struct {
	repo dao.Repository
}

func NewInventoryAllocator(repo dao.Repository) *InventoryAllocator {
	return &InventoryAllocator{repo: repo}
}

// Allocate 为订单分配 n 条卡密，不足时整体失败
func (a *InventoryAllocator) Allocate(ctx context.Context, productID, orderID uint, n int) ([]*dgs.InventoryItem, error) {
	return a.repo.ClaimInventory(ctx, productID, orderID, n)
}

// AddStock 批量入库，只接受 license 类商品
func (a *InventoryAllocator) AddStock(ctx context.Context, productID uint, codes []StockCode) (int, error) {
	product, err := a.repo.GetProductByID(ctx, productID)
	if err != nil {
		return 0, err
	}
	if product.Type != dgs.ProductTypeLicense {
		return 0, errs.ErrInvalidQuantity.WithMsg("product %d does not use license codes", productID)
	}

	seen := make(map[string]bool, len(codes))
	items := make([]*dgs.InventoryItem, 0, len(codes))
	for _, c := range codes {
		code := strings.TrimSpace(c.LicenseCode)
		if code == "" {
			continue
		}
		if seen[code] {
			return 0, errs.ErrDuplicateLicenseCode.WithMsg("license code %s appears twice", code)
		}
		seen[code] = true
		items = append(items, &dgs.InventoryItem{ProductID: productID, LicenseCode: code, Password: c.Password})
	}
	if len(items) == 0 {
		return 0, errs.ErrInvalidQuantity.WithMsg("no license codes given")
	}
	if err := a.repo.AddInventoryItems(ctx, items); err != nil {
		return 0, err
	}
	return len(items), nil
}

// Stock 当前未分配数量
func (a *InventoryAllocator) Stock(ctx context.Context, productID uint) (int64, error) {
	return a.repo.CountAvailable(ctx, productID)
}
