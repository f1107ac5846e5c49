package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/model"
)

// ScanFilter 打卡窗口查询条件；时间区间为 [From, To)
type ScanFilter struct {
	From       time.Time
	To         time.Time
	SiteID     string
	EmployeeID string
}

// ScanRepository 打卡数据访问接口
// 引擎只写派生标志列；打卡本身由录入路径创建，从不删除
type ScanRepository interface {
	Create(ctx context.Context, scan *model.Scan) error
	GetByID(ctx context.Context, id string) (*model.Scan, error)
	// 区间 [from, to) 内最近一次打卡，无则返回 (nil, nil)
	Latest(ctx context.Context, employeeID, siteID string, from, to time.Time) (*model.Scan, error)
	ExistsAt(ctx context.Context, employeeID, siteID string, ts time.Time) (bool, error)
	// 某员工在某站点 [from, to) 的打卡，按 (timestamp, scan_id) 升序
	ListRange(ctx context.Context, employeeID, siteID string, from, to time.Time) ([]*model.Scan, error)
	ListWindow(ctx context.Context, filter ScanFilter) ([]*model.Scan, error)
	UpdateFlags(ctx context.Context, scanID string, flags model.ScanFlags) error
	ResetFlags(ctx context.Context, scanIDs []string) error
}

type scanRepo struct {
	db *gorm.DB
}

func NewScanRepo(db *gorm.DB) ScanRepository {
	return &scanRepo{db: db}
}

func (r *scanRepo) Create(ctx context.Context, scan *model.Scan) error {
	scan.Timestamp = scan.Timestamp.UTC()
	return r.db.WithContext(ctx).Create(scan).Error
}

func (r *scanRepo) GetByID(ctx context.Context, id string) (*model.Scan, error) {
	var scan model.Scan
	if err := r.db.WithContext(ctx).Where("scan_id = ?", id).First(&scan).Error; err != nil {
		return nil, err
	}
	return &scan, nil
}

func (r *scanRepo) Latest(ctx context.Context, employeeID, siteID string, from, to time.Time) (*model.Scan, error) {
	var scan model.Scan
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND site_id = ? AND timestamp >= ? AND timestamp < ?",
			employeeID, siteID, from.UTC(), to.UTC()).
		Order("timestamp DESC, scan_id DESC").
		First(&scan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &scan, nil
}

func (r *scanRepo) ExistsAt(ctx context.Context, employeeID, siteID string, ts time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Scan{}).
		Where("employee_id = ? AND site_id = ? AND timestamp = ?", employeeID, siteID, ts.UTC()).
		Count(&count).Error
	return count > 0, err
}

func (r *scanRepo) ListRange(ctx context.Context, employeeID, siteID string, from, to time.Time) ([]*model.Scan, error) {
	var list []*model.Scan
	err := r.db.WithContext(ctx).
		Where("employee_id = ? AND site_id = ? AND timestamp >= ? AND timestamp < ?",
			employeeID, siteID, from.UTC(), to.UTC()).
		Order("timestamp ASC, scan_id ASC").
		Find(&list).Error
	return list, err
}

func (r *scanRepo) ListWindow(ctx context.Context, filter ScanFilter) ([]*model.Scan, error) {
	var list []*model.Scan
	query := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", filter.From.UTC(), filter.To.UTC())
	if filter.SiteID != "" {
		query = query.Where("site_id = ?", filter.SiteID)
	}
	if filter.EmployeeID != "" {
		query = query.Where("employee_id = ?", filter.EmployeeID)
	}
	err := query.Order("timestamp ASC, scan_id ASC").Find(&list).Error
	return list, err
}

func (r *scanRepo) UpdateFlags(ctx context.Context, scanID string, flags model.ScanFlags) error {
	return r.db.WithContext(ctx).Model(&model.Scan{}).
		Where("scan_id = ?", scanID).
		Updates(flags.Columns()).Error
}

// ResetFlags 批量清零派生标志，按批次避免超长 IN 列表
func (r *scanRepo) ResetFlags(ctx context.Context, scanIDs []string) error {
	const batch = 500
	cols := model.ScanFlags{}.Columns()
	for start := 0; start < len(scanIDs); start += batch {
		end := start + batch
		if end > len(scanIDs) {
			end = len(scanIDs)
		}
		err := r.db.WithContext(ctx).Model(&model.Scan{}).
			Where("scan_id IN ?", scanIDs[start:end]).
			Updates(cols).Error
		if err != nil {
			return err
		}
	}
	return nil
}
