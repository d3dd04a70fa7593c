// Package daotest 提供基于内存 SQLite 的仓储，供各包测试使用
package daotest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Daneel-Li/dgshop/internal/dao"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var seq int64

// NewRepository 每次调用返回一个独立的内存库。
// 单连接保证 sqlite 内存库在事务之间共享，并发测试也因此串行落库。
func NewRepository(t testing.TB) (dao.Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:dgshop_%d?mode=memory&cache=shared", atomic.AddInt64(&seq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := dao.NewMysqlRepository(db)
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo, db
}
