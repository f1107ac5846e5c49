package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store 分布式锁的底层存储（pkg/redis.Client 实现）
type Store interface {
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// Distributed 基于 Redis SET NX 的跨进程锁
type Distributed struct {
	store  Store
	ttl    time.Duration
	poll   time.Duration
	logger *zap.Logger
}

// NewDistributed 创建分布式锁；ttl 为持锁上限，超时自动释放
func NewDistributed(store Store, ttl time.Duration, logger *zap.Logger) *Distributed {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Distributed{store: store, ttl: ttl, poll: 25 * time.Millisecond, logger: logger}
}

// Lock 轮询直到获取锁或 ctx 结束
func (d *Distributed) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		ok, err := d.store.TryLock(ctx, key, token, d.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待锁 %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	return func() {
		// 释放不受调用方 ctx 取消影响
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.store.Unlock(ctx, key, token); err != nil {
			d.logger.Warn("释放分布式锁失败", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
