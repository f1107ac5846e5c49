package repository

import (
	"context"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/model"
)

// ScheduleRepository 排班数据访问接口（引擎只读）
type ScheduleRepository interface {
	GetByID(ctx context.Context, id string) (*model.Schedule, error)
	GetDay(ctx context.Context, scheduleID string, dayOfWeek int) (*model.ScheduleDay, error)
}

type scheduleRepo struct {
	db *gorm.DB
}

func NewScheduleRepo(db *gorm.DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

func (r *scheduleRepo) GetByID(ctx context.Context, id string) (*model.Schedule, error) {
	var schedule model.Schedule
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", id).
		First(&schedule).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

func (r *scheduleRepo) GetDay(ctx context.Context, scheduleID string, dayOfWeek int) (*model.ScheduleDay, error) {
	var day model.ScheduleDay
	err := r.db.WithContext(ctx).
		Where("schedule_id = ? AND day_of_week = ?", scheduleID, dayOfWeek).
		First(&day).Error
	if err != nil {
		return nil, err
	}
	return &day, nil
}

// ── Assignment ──

// AssignmentFilter 绑定查询条件
type AssignmentFilter struct {
	SiteID     string
	EmployeeID string
}

// AssignmentRepository 员工-站点-排班绑定数据访问接口（引擎只读）
type AssignmentRepository interface {
	// 某员工在某站点的全部启用绑定
	ListActive(ctx context.Context, employeeID, siteID string) ([]model.Assignment, error)
	// 按站点/员工过滤的启用且带排班的绑定（缺勤检查使用）
	ListScheduled(ctx context.Context, filter AssignmentFilter) ([]model.Assignment, error)
}

type assignmentRepo struct {
	db *gorm.DB
}

func NewAssignmentRepo(db *gorm.DB) AssignmentRepository {
	return &assignmentRepo{db: db}
}

func (r *assignmentRepo) ListActive(ctx context.Context, employeeID, siteID string) ([]model.Assignment, error) {
	var list []model.Assignment
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND site_id = ? AND is_active = ?", employeeID, siteID, true).
		Order("created_at ASC, assignment_id ASC").
		Find(&list).Error
	return list, err
}

func (r *assignmentRepo) ListScheduled(ctx context.Context, filter AssignmentFilter) ([]model.Assignment, error) {
	var list []model.Assignment
	query := r.db.WithContext(ctx).
		Where("is_active = ? AND schedule_id IS NOT NULL", true)
	if filter.SiteID != "" {
		query = query.Where("site_id = ?", filter.SiteID)
	}
	if filter.EmployeeID != "" {
		query = query.Where("employee_id = ?", filter.EmployeeID)
	}
	err := query.Order("site_id ASC, employee_id ASC, created_at ASC").Find(&list).Error
	return list, err
}
