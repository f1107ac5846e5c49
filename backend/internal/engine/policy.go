// Package engine 是异常检测的纯计算核心：时段匹配、单次打卡分类与日终对账。
// 本包不做任何 I/O，输入为已解析的站点、排班与打卡，输出为标志与待写入的异常草稿。
package engine

import (
	"fmt"
	"sort"
	"time"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// Defaults 引擎级默认策略（站点未覆盖时生效）
type Defaults struct {
	Timezone            string
	PlausibilityStart   clock.TimeOfDay
	PlausibilityEnd     clock.TimeOfDay
	ConsecutiveDebounce time.Duration
	RapidPairGuard      time.Duration
	TieBreaker          TieBreaker
}

// DefaultsFromConfig 由引擎配置构造默认策略
func DefaultsFromConfig(cfg *config.EngineConfig) (Defaults, error) {
	start, err := clock.ParseTimeOfDay(cfg.PlausibilityStart)
	if err != nil {
		return Defaults{}, fmt.Errorf("plausibility_start: %w", err)
	}
	end, err := clock.ParseTimeOfDay(cfg.PlausibilityEnd)
	if err != nil {
		return Defaults{}, fmt.Errorf("plausibility_end: %w", err)
	}
	tb, err := TieBreakerByName(cfg.TieBreaker)
	if err != nil {
		return Defaults{}, err
	}
	if _, err := clock.LoadLocation(cfg.DefaultTimezone); err != nil {
		return Defaults{}, err
	}
	return Defaults{
		Timezone:            cfg.DefaultTimezone,
		PlausibilityStart:   start,
		PlausibilityEnd:     end,
		ConsecutiveDebounce: cfg.ConsecutiveDebounce,
		RapidPairGuard:      cfg.RapidPairGuard,
		TieBreaker:          tb,
	}, nil
}

// Policy 某站点上生效的策略
type Policy struct {
	Location            *time.Location
	PlausibilityStart   clock.TimeOfDay
	PlausibilityEnd     clock.TimeOfDay
	ConsecutiveDebounce time.Duration
	RapidPairGuard      time.Duration
	TieBreaker          TieBreaker
}

// ForSite 合并站点覆盖值与默认值
func (d Defaults) ForSite(site *model.Site) (Policy, error) {
	tz := site.Timezone
	if tz == "" {
		tz = d.Timezone
	}
	loc, err := clock.LoadLocation(tz)
	if err != nil {
		return Policy{}, err
	}

	p := Policy{
		Location:            loc,
		PlausibilityStart:   d.PlausibilityStart,
		PlausibilityEnd:     d.PlausibilityEnd,
		ConsecutiveDebounce: d.ConsecutiveDebounce,
		RapidPairGuard:      d.RapidPairGuard,
		TieBreaker:          d.TieBreaker,
	}
	if site.PlausibilityStart != nil {
		p.PlausibilityStart = *site.PlausibilityStart
	}
	if site.PlausibilityEnd != nil {
		p.PlausibilityEnd = *site.PlausibilityEnd
	}
	if site.ConsecutiveDebounceSec != nil {
		p.ConsecutiveDebounce = time.Duration(*site.ConsecutiveDebounceSec) * time.Second
	}
	if p.TieBreaker == nil {
		p.TieBreaker = MostRecent
	}
	return p, nil
}

// Plausible 本地时刻是否落在合理打卡区间内（含端点）
func (p Policy) Plausible(t clock.TimeOfDay) bool {
	return t >= p.PlausibilityStart && t <= p.PlausibilityEnd
}

// ── 容差：排班覆盖 ?? 站点默认 ──

// LateMargin 迟到容差（分钟）
func LateMargin(site *model.Site, s *model.Schedule) int {
	if s != nil && s.LateMarginMin != nil {
		return *s.LateMarginMin
	}
	return site.LateMarginMin
}

// EarlyDepartureMargin 早退容差（分钟）
func EarlyDepartureMargin(site *model.Site, s *model.Schedule) int {
	if s != nil && s.EarlyDepartureMarginMin != nil {
		return *s.EarlyDepartureMarginMin
	}
	return site.EarlyDepartureMarginMin
}

// TolerancePct 频次排班的时长容差百分比，限制在 [0, 100]
func TolerancePct(site *model.Site, s *model.Schedule) int {
	pct := site.FrequencyTolerancePct
	if s != nil && s.FrequencyTolerancePct != nil {
		pct = *s.FrequencyTolerancePct
	}
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}

// ── 候选排班与裁决策略 ──

// Candidate 某日适用的 (排班, 日明细)
type Candidate struct {
	Schedule *model.Schedule
	Day      *model.ScheduleDay
}

// Fixed 是否固定排班
func (c Candidate) Fixed() bool { return c.Schedule.Kind == model.ScheduleKindFixed }

// ScheduleID 返回排班 ID 的指针副本
func (c Candidate) ScheduleID() *string {
	id := c.Schedule.ScheduleID
	return &id
}

// TieBreaker 多个排班同时匹配时的裁决策略；a 优先于 b 时返回 true
type TieBreaker func(a, b *model.Schedule) bool

// MostRecent 创建时间最晚者优先，相同则 ID 较大者优先
func MostRecent(a, b *model.Schedule) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ScheduleID > b.ScheduleID
}

var tieBreakers = map[string]TieBreaker{
	"most_recent": MostRecent,
}

// TieBreakerByName 按名称查找裁决策略
func TieBreakerByName(name string) (TieBreaker, error) {
	tb, ok := tieBreakers[name]
	if !ok {
		return nil, fmt.Errorf("未知的裁决策略 %q", name)
	}
	return tb, nil
}

// Pick 按策略选出生效排班；cands 为空时返回 false
func Pick(cands []Candidate, tb TieBreaker) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	if tb == nil {
		tb = MostRecent
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if tb(c.Schedule, best.Schedule) {
			best = c
		}
	}
	return best, true
}

// SortCandidates 按策略优先级降序排列（用于稳定输出）
func SortCandidates(cands []Candidate, tb TieBreaker) {
	if tb == nil {
		tb = MostRecent
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return tb(cands[i].Schedule, cands[j].Schedule)
	})
}
