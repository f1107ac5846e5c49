package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/engine"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
)

// ── 排班解析 ──

var (
	ErrNoAssignment         = errors.New("员工未绑定该站点")
	ErrScheduleLookupFailed = errors.New("排班查询失败")
)

// Resolution 某 (员工, 站点, 日期) 的排班解析结果
type Resolution struct {
	Candidates []engine.Candidate
	// 当天处于启用状态的排班数（不论当天有无日明细）
	Scheduled int
}

type resolveKey struct {
	employeeID string
	siteID     string
	date       clock.Date
}

type dayKey struct {
	scheduleID string
	weekday    int
}

// ScheduleResolver 解析员工在某站点某日适用的排班
// memo 开启时缓存在单次调用（一次重扫）内有效，调用结束即丢弃
type ScheduleResolver struct {
	repo   *repository.Repository
	logger *zap.Logger

	memo      bool
	results   map[resolveKey]*Resolution
	schedules map[string]*model.Schedule
	days      map[dayKey]*model.ScheduleDay
}

// NewScheduleResolver 创建解析器
func NewScheduleResolver(repo *repository.Repository, logger *zap.Logger, memo bool) *ScheduleResolver {
	return &ScheduleResolver{
		repo:      repo,
		logger:    logger,
		memo:      memo,
		results:   make(map[resolveKey]*Resolution),
		schedules: make(map[string]*model.Schedule),
		days:      make(map[dayKey]*model.ScheduleDay),
	}
}

// Resolve 返回当天适用的 (排班, 日明细) 列表
// 无启用绑定时返回 ErrNoAssignment；单个排班查询失败只记录日志并跳过
func (r *ScheduleResolver) Resolve(ctx context.Context, employeeID, siteID string, date clock.Date) (*Resolution, error) {
	key := resolveKey{employeeID: employeeID, siteID: siteID, date: date}
	if r.memo {
		if res, ok := r.results[key]; ok {
			return res, nil
		}
	}

	assignments, err := r.repo.Assignment.ListActive(ctx, employeeID, siteID)
	if err != nil {
		r.logger.Error("查询绑定失败",
			zap.String("employee_id", employeeID), zap.String("site_id", siteID), zap.Error(err))
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, ErrNoAssignment
	}

	res := &Resolution{}
	seen := make(map[string]bool)
	for _, a := range assignments {
		if a.ScheduleID == nil || seen[*a.ScheduleID] {
			continue
		}
		seen[*a.ScheduleID] = true

		schedule, err := r.schedule(ctx, *a.ScheduleID)
		if err != nil {
			r.logger.Warn("跳过排班",
				zap.String("schedule_id", *a.ScheduleID), zap.Error(fmt.Errorf("%w: %v", ErrScheduleLookupFailed, err)))
			continue
		}
		if schedule.SiteID != siteID || !schedule.ActiveOn(date) {
			continue
		}
		res.Scheduled++

		day, err := r.day(ctx, schedule.ScheduleID, date.Weekday())
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				r.logger.Warn("跳过排班日明细",
					zap.String("schedule_id", schedule.ScheduleID), zap.Error(fmt.Errorf("%w: %v", ErrScheduleLookupFailed, err)))
			}
			continue
		}
		if err := day.Validate(schedule.Kind); err != nil {
			r.logger.Warn("排班日明细无效，已跳过",
				zap.String("schedule_id", schedule.ScheduleID), zap.Int("day_of_week", day.DayOfWeek), zap.Error(err))
			continue
		}
		res.Candidates = append(res.Candidates, engine.Candidate{Schedule: schedule, Day: day})
	}

	if r.memo {
		r.results[key] = res
	}
	return res, nil
}

// Schedule 按 ID 读取排班（走缓存）
func (r *ScheduleResolver) Schedule(ctx context.Context, id string) (*model.Schedule, error) {
	return r.schedule(ctx, id)
}

func (r *ScheduleResolver) schedule(ctx context.Context, id string) (*model.Schedule, error) {
	if s, ok := r.schedules[id]; ok && r.memo {
		return s, nil
	}
	s, err := r.repo.Schedule.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.memo {
		r.schedules[id] = s
	}
	return s, nil
}

func (r *ScheduleResolver) day(ctx context.Context, scheduleID string, weekday int) (*model.ScheduleDay, error) {
	key := dayKey{scheduleID: scheduleID, weekday: weekday}
	if d, ok := r.days[key]; ok && r.memo {
		return d, nil
	}
	d, err := r.repo.Schedule.GetDay(ctx, scheduleID, weekday)
	if err != nil {
		return nil, err
	}
	if r.memo {
		r.days[key] = d
	}
	return d, nil
}
