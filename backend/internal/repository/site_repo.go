package repository

import (
	"context"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/model"
)

// SiteRepository 站点数据访问接口（引擎只读）
type SiteRepository interface {
	GetByID(ctx context.Context, id string) (*model.Site, error)
	GetByQRValue(ctx context.Context, qrValue string) (*model.Site, error)
}

type siteRepo struct {
	db *gorm.DB
}

func NewSiteRepo(db *gorm.DB) SiteRepository {
	return &siteRepo{db: db}
}

func (r *siteRepo) GetByID(ctx context.Context, id string) (*model.Site, error) {
	var site model.Site
	if err := r.db.WithContext(ctx).Where("site_id = ?", id).First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

func (r *siteRepo) GetByQRValue(ctx context.Context, qrValue string) (*model.Site, error) {
	var site model.Site
	if err := r.db.WithContext(ctx).Where("qr_value = ?", qrValue).First(&site).Error; err != nil {
		return nil, err
	}
	return &site, nil
}

// ── Employee ──

// EmployeeRepository 员工数据访问接口（引擎只读）
type EmployeeRepository interface {
	GetByID(ctx context.Context, id string) (*model.Employee, error)
}

type employeeRepo struct {
	db *gorm.DB
}

func NewEmployeeRepo(db *gorm.DB) EmployeeRepository {
	return &employeeRepo{db: db}
}

func (r *employeeRepo) GetByID(ctx context.Context, id string) (*model.Employee, error) {
	var e model.Employee
	if err := r.db.WithContext(ctx).Where("employee_id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}
