package dao

import (
	"context"
	"errors"
	"strings"

	dgs "github.com/Daneel-Li/dgshop/internal/models"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

const mysqlErrDuplicateEntry = 1062

type contextTxKey struct{}

// MysqlRepository MySQL数据库实现
type MysqlRepository struct {
	db *gorm.DB
}

// NewMysqlRepository 创建MySQL数据访问对象
func NewMysqlRepository(db *gorm.DB) Repository {
	return &MysqlRepository{db: db}
}

// 确保MysqlRepository实现了所有接口
var _ Repository = (*MysqlRepository)(nil)

// InTx 执行事务。ctx 中已有事务时直接加入，不再开启新事务
func (d *MysqlRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, contextTxKey{}, tx))
	})
}

// conn 返回 ctx 中的事务，没有则使用普通连接
func (d *MysqlRepository) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(contextTxKey{}).(*gorm.DB); ok {
		return tx
	}
	return d.db.WithContext(ctx)
}

func (d *MysqlRepository) AutoMigrate(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(
		&dgs.Product{},
		&dgs.Order{},
		&dgs.OrderItem{},
		&dgs.Payment{},
		&dgs.Refund{},
		&dgs.Coupon{},
		&dgs.InventoryItem{},
		&dgs.DownloadGrant{},
		&dgs.WebhookEvent{},
	)
}

// isDuplicateKey 唯一键冲突，兼容 mysql 1062 和 sqlite
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == mysqlErrDuplicateEntry
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
