package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
	pkgerrors "pg-pointage/backend/pkg/errors"
)

// AnomalyFilter 异常查询/清理条件；日期区间为闭区间 [From, To]
type AnomalyFilter struct {
	From       clock.Date
	To         clock.Date
	SiteID     string
	EmployeeID string
	Kind       string
	Status     string
}

// AnomalyRepository 异常存储接口，独占 anomalies 与 anomaly_scans 两张表
type AnomalyRepository interface {
	// 按唯一键创建或原地更新；从不覆盖状态与审核字段，返回是否新建
	Upsert(ctx context.Context, a *model.Anomaly) (bool, error)
	// 追加关联打卡（集合语义，幂等）
	AttachRelated(ctx context.Context, anomalyID string, scanIDs []string) error
	ListForDay(ctx context.Context, employeeID, siteID string, date clock.Date) ([]model.Anomaly, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// 按条件清理（仅重扫使用），返回删除条数
	DeleteWhere(ctx context.Context, filter AnomalyFilter) (int64, error)
	GetByID(ctx context.Context, id string) (*model.Anomaly, error)
	List(ctx context.Context, filter AnomalyFilter, offset, limit int) ([]model.Anomaly, int64, error)
	// 更新审核字段（乐观锁）
	UpdateReview(ctx context.Context, a *model.Anomaly) error
}

type anomalyRepo struct {
	db *gorm.DB
}

func NewAnomalyRepo(db *gorm.DB) AnomalyRepository {
	return &anomalyRepo{db: db}
}

func (r *anomalyRepo) Upsert(ctx context.Context, a *model.Anomaly) (bool, error) {
	db := r.db.WithContext(ctx)

	var existing model.Anomaly
	err := db.Where("employee_id = ? AND site_id = ? AND date = ? AND kind = ? AND trigger_key = ?",
		a.EmployeeID, a.SiteID, a.Date, a.Kind, a.TriggerKey).
		First(&existing).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(a).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return false, fmt.Errorf("%w: %s/%s", pkgerrors.ErrConflictingUpsert, a.Kind, a.Date)
			}
			return false, err
		}
		if err := r.AttachRelated(ctx, a.AnomalyID, a.RelatedScanIDs); err != nil {
			return true, err
		}
		return true, nil
	case err != nil:
		return false, err
	}

	// 合并非空字段；status / corrected_by / correction_* 保持不变
	updates := map[string]interface{}{
		"description": a.Description,
		"minutes":     a.Minutes,
	}
	if a.ScanID != nil {
		updates["scan_id"] = *a.ScanID
	}
	if a.ScheduleID != nil {
		updates["schedule_id"] = *a.ScheduleID
	}
	if err := db.Model(&model.Anomaly{}).
		Where("anomaly_id = ?", existing.AnomalyID).
		Updates(updates).Error; err != nil {
		return false, err
	}

	a.AnomalyID = existing.AnomalyID
	a.Status = existing.Status
	a.CorrectedBy = existing.CorrectedBy
	a.CorrectionNote = existing.CorrectionNote
	a.CorrectionDate = existing.CorrectionDate
	a.CreatedAt = existing.CreatedAt
	a.Version = existing.Version

	return false, r.AttachRelated(ctx, existing.AnomalyID, a.RelatedScanIDs)
}

func (r *anomalyRepo) AttachRelated(ctx context.Context, anomalyID string, scanIDs []string) error {
	if len(scanIDs) == 0 {
		return nil
	}
	rows := make([]model.AnomalyScan, 0, len(scanIDs))
	seen := make(map[string]bool, len(scanIDs))
	for _, id := range scanIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		rows = append(rows, model.AnomalyScan{AnomalyID: anomalyID, ScanID: id})
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *anomalyRepo) ListForDay(ctx context.Context, employeeID, siteID string, date clock.Date) ([]model.Anomaly, error) {
	var list []model.Anomaly
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND site_id = ? AND date = ?", employeeID, siteID, date).
		Order("kind ASC, trigger_key ASC").
		Find(&list).Error
	return list, err
}

func (r *anomalyRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	db := r.db.WithContext(ctx)
	if err := db.Where("anomaly_id IN ?", ids).Delete(&model.AnomalyScan{}).Error; err != nil {
		return err
	}
	return db.Where("anomaly_id IN ?", ids).Delete(&model.Anomaly{}).Error
}

func (r *anomalyRepo) DeleteWhere(ctx context.Context, filter AnomalyFilter) (int64, error) {
	db := r.db.WithContext(ctx)

	sub := r.applyFilter(db.Model(&model.Anomaly{}).Select("anomaly_id"), filter)
	if err := db.Where("anomaly_id IN (?)", sub).Delete(&model.AnomalyScan{}).Error; err != nil {
		return 0, err
	}

	res := r.applyFilter(db, filter).Delete(&model.Anomaly{})
	return res.RowsAffected, res.Error
}

func (r *anomalyRepo) GetByID(ctx context.Context, id string) (*model.Anomaly, error) {
	var a model.Anomaly
	if err := r.db.WithContext(ctx).Where("anomaly_id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	list := []model.Anomaly{a}
	if err := r.loadRelated(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *anomalyRepo) List(ctx context.Context, filter AnomalyFilter, offset, limit int) ([]model.Anomaly, int64, error) {
	var list []model.Anomaly
	var total int64

	query := r.applyFilter(r.db.WithContext(ctx).Model(&model.Anomaly{}), filter)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("date DESC, employee_id ASC, kind ASC, trigger_key ASC").
		Offset(offset).Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	if err := r.loadRelated(ctx, list); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *anomalyRepo) UpdateReview(ctx context.Context, a *model.Anomaly) error {
	result := r.db.WithContext(ctx).Model(&model.Anomaly{}).
		Where("anomaly_id = ? AND version = ?", a.AnomalyID, a.Version).
		Updates(map[string]interface{}{
			"status":          a.Status,
			"corrected_by":    a.CorrectedBy,
			"correction_note": a.CorrectionNote,
			"correction_date": a.CorrectionDate,
			"version":         gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	a.Version++
	return nil
}

func (r *anomalyRepo) applyFilter(q *gorm.DB, f AnomalyFilter) *gorm.DB {
	if !f.From.IsZero() {
		q = q.Where("date >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("date <= ?", f.To)
	}
	if f.SiteID != "" {
		q = q.Where("site_id = ?", f.SiteID)
	}
	if f.EmployeeID != "" {
		q = q.Where("employee_id = ?", f.EmployeeID)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	return q
}

// loadRelated 回填 RelatedScanIDs
func (r *anomalyRepo) loadRelated(ctx context.Context, list []model.Anomaly) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	for i := range list {
		ids[i] = list[i].AnomalyID
	}
	var rows []model.AnomalyScan
	if err := r.db.WithContext(ctx).
		Where("anomaly_id IN ?", ids).
		Order("scan_id ASC").
		Find(&rows).Error; err != nil {
		return err
	}
	byID := make(map[string][]string, len(list))
	for _, row := range rows {
		byID[row.AnomalyID] = append(byID[row.AnomalyID], row.ScanID)
	}
	for i := range list {
		list[i].RelatedScanIDs = byID[list[i].AnomalyID]
		if list[i].RelatedScanIDs == nil {
			list[i].RelatedScanIDs = []string{}
		}
	}
	return nil
}
