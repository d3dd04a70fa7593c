package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Daneel-Li/dgshop/internal/config"
	"github.com/Daneel-Li/dgshop/internal/dao"
	"github.com/Daneel-Li/dgshop/internal/gateways/razorpay"
	"github.com/Daneel-Li/dgshop/internal/gateways/wechat"
	"github.com/Daneel-Li/dgshop/internal/handlers"
	"github.com/Daneel-Li/dgshop/internal/services"
	"github.com/Daneel-Li/dgshop/pkg/db"
	"github.com/Daneel-Li/dgshop/pkg/utils"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
)

func setupLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger.With("service", "dgshop"))
}

// initCoordination 配置了 redis 时使用分布式锁和计数器，否则退化为进程内实现
func initCoordination(ctx context.Context, cfg *config.Config) (services.Locker, services.CounterStore, func()) {
	if cfg.Redis.Addr == "" {
		slog.Warn("redis not configured, using in-process locks and rate limiting")
		return services.NewLocalLocker(), services.NewMemoryCounterStore(), func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("Could not connect to redis: ", err)
	}
	return services.NewRedisLocker(rdb), services.NewRedisCounterStore(rdb, "dgshop:"), func() { rdb.Close() }
}

// initGateways 只注册已配置的网关
func initGateways(ctx context.Context, cfg *config.Config) *services.GatewayManager {
	gm := services.NewGatewayManager()
	if cfg.Razorpay.KeyID != "" {
		if err := gm.RegisterGateway(razorpay.New(&cfg.Razorpay), cfg.Razorpay.QPS); err != nil {
			log.Fatal(err)
		}
	}
	if cfg.WechatPayment.MchID != "" {
		gw, err := wechat.New(ctx, &cfg.WechatPayment)
		if err != nil {
			log.Fatal("init wechat pay gateway failed: ", err)
		}
		if err := gm.RegisterGateway(gw, cfg.WechatPayment.QPS); err != nil {
			log.Fatal(err)
		}
	}
	if len(gm.ListGateways()) == 0 {
		slog.Warn("no payment gateway configured")
	}
	return gm
}

// initNotifier 订单事件同时推送到 MQTT 和 websocket
func initNotifier(cfg *config.Config, wsManager *services.WSManager) (services.Notifier, func()) {
	notifiers := services.MultiNotifier{services.NewWSNotifier(wsManager)}
	stop := func() {}
	if cfg.Mqtt.Broker != "" {
		publisher := services.NewMqttPublisher(cfg.Mqtt)
		if err := publisher.Start(); err != nil {
			slog.Error("mqtt publisher start failed, events go to websocket only", "error", err)
		} else {
			notifiers = append(notifiers, publisher)
			stop = publisher.Stop
		}
	}
	return notifiers, stop
}

func main() {
	configPath := flag.String("c", "./config.json", "config file path (.json or .yaml)")
	flag.Parse()

	config.LoadConfig(*configPath)
	cfg := config.GetConfig()
	if cfg == nil {
		log.Fatal("no usable config at ", *configPath)
	}

	// 设置日志级别
	setupLogging(cfg.Loglevel)

	if len(cfg.JwtKey) == 0 {
		log.Fatal("jwt key is not configured, check jwt_key_path")
	}
	trusted, err := utils.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatal("invalid trusted_proxies: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库连接
	gdb, err := db.OpenMysql(cfg.Mysql, cfg.Loglevel)
	if err != nil {
		log.Fatal("Could not connect to the database: ", err)
	}
	db.HealthCheck(ctx, gdb, time.Minute)
	repo := dao.NewMysqlRepository(gdb)
	if err := repo.AutoMigrate(ctx); err != nil {
		log.Fatal("auto migrate failed: ", err)
	}

	locker, counters, closeRedis := initCoordination(ctx, cfg)
	defer closeRedis()

	ck := cfg.Checkout
	payments, err := services.NewPaymentLedger(repo, ck.SnowflakeNode)
	if err != nil {
		log.Fatal(err)
	}
	fulfiller := services.NewFulfiller(repo, services.NewInventoryAllocator(repo), services.FulfillerConfig{
		DownloadTTL:     time.Duration(ck.DownloadTTLHours) * time.Hour,
		MaxDownloads:    ck.MaxDownloads,
		DownloadBaseURL: ck.DownloadBaseURL,
	})

	jwtService := services.NewJWTService()
	wsManager := services.NewWsManager(ctx, jwtService, 10*time.Minute)
	notifier, stopMqtt := initNotifier(cfg, wsManager)
	defer stopMqtt()

	checkout := services.NewCheckoutService(repo, payments, fulfiller, initGateways(ctx, cfg), locker,
		notifier, services.LogMailer{}, services.CheckoutOptions{
			RefundLockTTL:  time.Duration(ck.RefundLockSeconds) * time.Second,
			GatewayTimeout: time.Duration(ck.GatewayTimeoutSeconds) * time.Second,
			PoolSize:       ck.NotificationPoolWorker,
		})

	sweeper := services.NewUnpaidSweeper(payments, time.Duration(ck.UnpaidTTLMinutes)*time.Minute)
	if err := sweeper.Start(ck.SweepSpec); err != nil {
		log.Fatal(err)
	}
	defer sweeper.Stop()

	// 设置路由
	h := handlers.NewCheckoutHandler(checkout, wsManager, trusted)
	router := handlers.NewRouter(h, handlers.NewAuth(jwtService),
		handlers.RateLimit(counters, trusted, int64(ck.RateLimitPerMinute), time.Minute))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		var err error
		if cfg.Tls.CertPath != "" {
			slog.Info("Starting HTTPS server: " + server.Addr + "...")
			err = server.ListenAndServeTLS(cfg.Tls.CertPath, cfg.Tls.KeyPath)
		} else {
			slog.Info("Starting HTTP server: " + server.Addr + "...")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server: " + err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
}
