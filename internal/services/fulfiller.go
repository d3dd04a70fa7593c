package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/pkg/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type FulfillerConfig struct {
	DownloadTTL     time.Duration
	MaxDownloads    int
	DownloadBaseURL string
}

// Fulfiller 生成订单交付内容：卡密类分配卡密，文件类签发下载授权
type Fulfiller struct {
	repo      dao.Repository
	inventory *InventoryAllocator
	cfg       FulfillerConfig
	now       func() time.Time
}

func NewFulfiller(repo dao.Repository, inventory *InventoryAllocator, cfg FulfillerConfig) *Fulfiller {
	if cfg.MaxDownloads <= 0 {
		cfg.MaxDownloads = 5
	}
	if cfg.DownloadTTL <= 0 {
		cfg.DownloadTTL = 72 * time.Hour
	}
	return &Fulfiller{repo: repo, inventory: inventory, cfg: cfg, now: utcNow}
}

// ResolveProducts 并发读取订单项对应的商品，需在事务外调用
func (f *Fulfiller) ResolveProducts(ctx context.Context, items []dgs.OrderItem) (map[uint]*dgs.Product, error) {
	products := make([]*dgs.Product, len(items))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, item := range items {
		i, productID := i, item.ProductID
		g.Go(func() error {
			p, err := f.repo.GetProductByID(ctx, productID)
			if err != nil {
				return fmt.Errorf("resolve product %d: %w", productID, err)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[uint]*dgs.Product, len(products))
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// Fulfill 在调用方事务内执行；任何一项失败都会使整个交付回滚
func (f *Fulfiller) Fulfill(ctx context.Context, order *dgs.Order, products map[uint]*dgs.Product) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Order #%d\n", order.ID)

	for _, item := range order.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return "", fmt.Errorf("product %d of order %d not resolved", item.ProductID, order.ID)
		}
		switch p.Type {
		case dgs.ProductTypeLicense:
			codes, err := f.inventory.Allocate(ctx, p.ID, order.ID, item.Quantity)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "%s:\n", p.Name)
			for _, c := range codes {
				if c.Password != nil && *c.Password != "" {
					fmt.Fprintf(&sb, "  %s (password: %s)\n", c.LicenseCode, *c.Password)
				} else {
					fmt.Fprintf(&sb, "  %s\n", c.LicenseCode)
				}
			}
		case dgs.ProductTypeFile:
			grant := &dgs.DownloadGrant{
				Token:              uuid.New().String(),
				OrderID:            order.ID,
				ProductID:          p.ID,
				DownloadsRemaining: f.cfg.MaxDownloads * item.Quantity,
				ExpiresAt:          f.now().Add(f.cfg.DownloadTTL),
			}
			if err := f.repo.CreateGrants(ctx, []*dgs.DownloadGrant{grant}); err != nil {
				return "", fmt.Errorf("create download grant: %w", err)
			}
			fmt.Fprintf(&sb, "%s: %s/api/v1/downloads/%s (expires %s)\n",
				p.Name, strings.TrimRight(f.cfg.DownloadBaseURL, "/"), grant.Token, grant.ExpiresAt.Format(time.RFC3339))
		default:
			return "", fmt.Errorf("unsupported product type %q", p.Type)
		}
	}
	fmt.Fprintf(&sb, "Total paid: %s\n", utils.FormatMinor(order.AuthoritativeAmount(), order.Currency))
	return sb.String(), nil
}
