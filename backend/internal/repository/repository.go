package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository 所有 Repository 的聚合入口
type Repository struct {
	db *gorm.DB

	Site       SiteRepository
	Schedule   ScheduleRepository
	Assignment AssignmentRepository
	Employee   EmployeeRepository
	Scan       ScanRepository
	Anomaly    AnomalyRepository
}

// NewRepository 创建 Repository 聚合
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:         db,
		Site:       NewSiteRepo(db),
		Schedule:   NewScheduleRepo(db),
		Assignment: NewAssignmentRepo(db),
		Employee:   NewEmployeeRepo(db),
		Scan:       NewScanRepo(db),
		Anomaly:    NewAnomalyRepo(db),
	}
}

// Transaction 在事务中执行 fn；fn 收到绑定到该事务的聚合
// 已处于事务中时再次调用会使用保存点，内层失败只回滚到保存点
// 未绑定数据库（单元测试注入的 mock 聚合）时直接执行 fn
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	if r.db == nil {
		return fn(r)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewRepository(tx))
	})
}
