package db

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/Daneel-Li/dgshop/internal/config"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN 由驱动的 Config 生成，时间统一按 UTC 解析
func DSN(cfg config.MysqlConfig) string {
	c := gomysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// OpenMysql 打开 gorm 连接并配置连接池
func OpenMysql(cfg config.MysqlConfig, logLevel string) (*gorm.DB, error) {
	gormLevel := logger.Warn
	if logLevel == "debug" {
		gormLevel = logger.Info
	}
	db, err := gorm.Open(mysql.Open(DSN(cfg)), &gorm.Config{
		PrepareStmt:    true, // 开启预编译提升性能
		TranslateError: true,
		Logger:         logger.Default.LogMode(gormLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC() // 写入用 UTC
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql %s: %w", cfg.Host, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	maxOpen, maxIdle := cfg.MaxOpenConns, cfg.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	if maxIdle <= 0 {
		maxIdle = 20
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// HealthCheck 定期 ping，ctx 取消后退出
func HealthCheck(ctx context.Context, db *gorm.DB, interval time.Duration) {
	sqlDB, err := db.DB()
	if err != nil {
		slog.Error("Get underlying sql.DB failed", "error", err)
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sqlDB.PingContext(ctx); err != nil {
					slog.Warn("Database connection health check failed", "error", err)
				}
			}
		}
	}()
}
