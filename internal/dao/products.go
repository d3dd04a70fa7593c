package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"gorm.io/gorm"
)

func (d *MysqlRepository) CreateProduct(ctx context.Context, product *dgs.Product) error {
	return d.conn(ctx).Create(product).Error
}

func (d *MysqlRepository) GetProductByID(ctx context.Context, productID uint) (*dgs.Product, error) {
	var p dgs.Product
	err := d.conn(ctx).Where("id = ?", productID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select product %d failed: %w", productID, err)
	}
	return &p, nil
}
