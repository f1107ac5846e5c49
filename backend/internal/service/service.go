package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/engine"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/metrics"
	"pg-pointage/backend/internal/repository"
)

// ErrDeadlineExceeded 调用方截止时间已到（等锁或重扫途中）
var ErrDeadlineExceeded = errors.New("处理超出调用方截止时间")

// Service 所有 Service 的聚合入口
type Service struct {
	Scan    ScanService
	Rescan  RescanService
	Anomaly AnomalyService
}

// NewService 创建 Service 聚合
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	locker lock.Locker,
	clk clock.Clock,
	logger *zap.Logger,
) (*Service, error) {
	defaults, err := engine.DefaultsFromConfig(&cfg.Engine)
	if err != nil {
		return nil, fmt.Errorf("引擎配置无效: %w", err)
	}
	det := &detector{defaults: defaults, clock: clk, logger: logger}

	return &Service{
		Scan:    newScanService(&cfg.Engine, repo, det, locker, logger),
		Rescan:  newRescanService(&cfg.Engine, repo, det, locker, logger),
		Anomaly: NewAnomalyService(repo, clk, logger),
	}, nil
}

// acquire 获取三元组锁并记录等锁耗时
func acquire(ctx context.Context, locker lock.Locker, key string) (func(), error) {
	start := time.Now()
	unlock, err := locker.Lock(ctx, key)
	metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, deadline(err)
	}
	return unlock, nil
}

// deadline 将 ctx 超时包装为 ErrDeadlineExceeded
func deadline(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrDeadlineExceeded, err)
	}
	return err
}
