// Package lock 提供按 (员工, 站点, 本地日期) 串行化处理的键控锁。
package lock

import (
	"context"
	"fmt"
	"sync"

	"pg-pointage/backend/internal/clock"
)

// Locker 键控互斥锁；Lock 必须遵守 ctx 的截止时间
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TripleKey 三元组锁键
func TripleKey(employeeID, siteID string, date clock.Date) string {
	return fmt.Sprintf("triple:%s:%s:%s", siteID, employeeID, date)
}

// Local 进程内键控锁
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal 创建进程内键控锁
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Lock 获取 key 上的锁；ctx 结束时放弃等待并返回包装后的 ctx.Err()
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("等待锁 %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.release(key, s)
		})
	}, nil
}

func (l *Local) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

// size 当前持有或等待中的键数量
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
