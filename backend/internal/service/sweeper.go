package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
)

// Sweeper 日终对账任务：每天在 sweep.at 对最近两天做一次非强制重扫
// 只能在一天结束后判定的缺卡与时长不足异常由此补齐
type Sweeper struct {
	rescan RescanService
	clock  clock.Clock
	loc    *time.Location
	at     clock.TimeOfDay
	logger *zap.Logger
}

// NewSweeper 创建日终任务；时间按 engine.default_timezone 解释
func NewSweeper(cfg *config.EngineConfig, rescan RescanService, clk clock.Clock, logger *zap.Logger) (*Sweeper, error) {
	loc, err := clock.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		return nil, err
	}
	at, err := clock.ParseTimeOfDay(cfg.Sweep.At)
	if err != nil {
		return nil, fmt.Errorf("engine.sweep.at: %w", err)
	}
	return &Sweeper{rescan: rescan, clock: clk, loc: loc, at: at, logger: logger}, nil
}

// Run 阻塞直到 ctx 结束
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("日终对账任务已启动", zap.String("at", s.at.String()), zap.String("timezone", s.loc.String()))
	for {
		now := s.clock.Now()
		next := s.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("日终对账任务已停止")
			return
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("日终对账失败", zap.Error(err))
		}
	}
}

// Next 返回 now 之后下一次执行时刻
func (s *Sweeper) Next(now time.Time) time.Time {
	today := clock.ToLocal(now, s.loc).Date
	next := s.at.On(today, s.loc)
	if !next.After(now) {
		next = s.at.On(today.AddDays(1), s.loc)
	}
	return next
}

// sweepLookbackDays 每次回看的天数；西侧时区站点的前一天可能在上一次执行时尚未结束
const sweepLookbackDays = 2

// SweepOnce 对最近两天执行一次非强制重扫
// 日期按 default_timezone 计算，各站点是否已日终由对账按站点本地时间判断
func (s *Sweeper) SweepOnce(ctx context.Context) (*dto.RescanResponse, error) {
	yesterday := clock.Today(s.clock, s.loc).AddDays(-1)
	return s.rescan.Rescan(ctx, &dto.RescanRequest{
		StartDate: yesterday.AddDays(1 - sweepLookbackDays).String(),
		EndDate:   yesterday.String(),
	})
}
