package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// UnpaidSweeper 定时将超时未支付的记录标记为 failed
type UnpaidSweeper struct {
	payments *PaymentLedger
	ttl      time.Duration
	cron     *cron.Cron
}

func NewUnpaidSweeper(payments *PaymentLedger, ttl time.Duration) *UnpaidSweeper {
	return &UnpaidSweeper{payments: payments, ttl: ttl, cron: cron.New(cron.WithSeconds())}
}

// Start schedule 为带秒的 cron 表达式
func (s *UnpaidSweeper) Start(schedule string) error {
	if _, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("sweep unpaid payments failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("add sweep job %q: %w", schedule, err)
	}
	s.cron.Start()
	slog.Info("unpaid sweeper started", "schedule", schedule, "ttl", s.ttl)
	return nil
}

func (s *UnpaidSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.payments.FailStale(ctx, s.ttl)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		slog.Info("stale unpaid payments marked failed", "count", n)
	}
	return n, nil
}

// Stop 等待正在执行的任务结束
func (s *UnpaidSweeper) Stop() {
	<-s.cron.Stop().Done()
}
