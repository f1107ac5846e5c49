package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
	pkgerrors "pg-pointage/backend/pkg/errors"
)

// ── 异常审核业务错误 ──

var (
	ErrAnomalyNotFound = errors.New("异常记录不存在")
	ErrInvalidStatus   = errors.New("无效的审核状态")
)

// AnomalyService 异常查询与审核业务接口
type AnomalyService interface {
	List(ctx context.Context, req *dto.AnomalyListRequest) ([]dto.AnomalyResponse, int64, error)
	GetByID(ctx context.Context, id string) (*dto.AnomalyResponse, error)
	UpdateStatus(ctx context.Context, id string, req *dto.UpdateAnomalyStatusRequest, callerID string) (*dto.AnomalyResponse, error)
}

type anomalyService struct {
	repo   *repository.Repository
	clock  clock.Clock
	logger *zap.Logger
}

// NewAnomalyService 创建 AnomalyService 实例
func NewAnomalyService(repo *repository.Repository, clk clock.Clock, logger *zap.Logger) AnomalyService {
	return &anomalyService{repo: repo, clock: clk, logger: logger}
}

// ────────────────────── List ──────────────────────

func (s *anomalyService) List(ctx context.Context, req *dto.AnomalyListRequest) ([]dto.AnomalyResponse, int64, error) {
	filter := repository.AnomalyFilter{
		SiteID:     req.SiteID,
		EmployeeID: req.EmployeeID,
		Kind:       req.Kind,
		Status:     req.Status,
	}
	var err error
	if req.StartDate != "" {
		if filter.From, err = clock.ParseDate(req.StartDate); err != nil {
			return nil, 0, fmt.Errorf("%w: start_date: %v", ErrInvalidWindow, err)
		}
	}
	if req.EndDate != "" {
		if filter.To, err = clock.ParseDate(req.EndDate); err != nil {
			return nil, 0, fmt.Errorf("%w: end_date: %v", ErrInvalidWindow, err)
		}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return nil, 0, ErrInvalidWindow
	}

	list, total, err := s.repo.Anomaly.List(ctx, filter, req.GetOffset(), req.GetPageSize())
	if err != nil {
		s.logger.Error("查询异常列表失败", zap.Error(err))
		return nil, 0, err
	}

	result := make([]dto.AnomalyResponse, 0, len(list))
	for i := range list {
		result = append(result, *toAnomalyResponse(&list[i]))
	}
	return result, total, nil
}

// ────────────────────── GetByID ──────────────────────

func (s *anomalyService) GetByID(ctx context.Context, id string) (*dto.AnomalyResponse, error) {
	a, err := s.repo.Anomaly.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnomalyNotFound
		}
		s.logger.Error("查询异常失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return toAnomalyResponse(a), nil
}

// ────────────────────── UpdateStatus ──────────────────────

// UpdateStatus 审核异常；改回 PENDING 时清空审核信息
func (s *anomalyService) UpdateStatus(ctx context.Context, id string, req *dto.UpdateAnomalyStatusRequest, callerID string) (*dto.AnomalyResponse, error) {
	switch req.Status {
	case model.AnomalyStatusPending, model.AnomalyStatusJustified, model.AnomalyStatusRejected:
	default:
		return nil, ErrInvalidStatus
	}

	a, err := s.repo.Anomaly.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAnomalyNotFound
		}
		s.logger.Error("查询异常失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	if a.Version != req.Version {
		return nil, pkgerrors.ErrOptimisticLock
	}

	a.Status = req.Status
	if req.Status == model.AnomalyStatusPending {
		a.CorrectedBy = nil
		a.CorrectionNote = nil
		a.CorrectionDate = nil
	} else {
		now := s.clock.Now()
		a.CorrectedBy = &callerID
		a.CorrectionNote = req.CorrectionNote
		a.CorrectionDate = &now
	}

	if err := s.repo.Anomaly.UpdateReview(ctx, a); err != nil {
		if !errors.Is(err, pkgerrors.ErrOptimisticLock) {
			s.logger.Error("更新异常审核状态失败", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("异常已审核",
		zap.String("anomaly_id", id),
		zap.String("status", a.Status),
		zap.String("caller", callerID),
	)
	return toAnomalyResponse(a), nil
}

// ── 转换 ──

func toAnomalyResponse(a *model.Anomaly) *dto.AnomalyResponse {
	related := a.RelatedScanIDs
	if related == nil {
		related = []string{}
	}
	return &dto.AnomalyResponse{
		AnomalyID:      a.AnomalyID,
		EmployeeID:     a.EmployeeID,
		SiteID:         a.SiteID,
		Date:           a.Date.String(),
		Kind:           a.Kind,
		ScanID:         a.ScanID,
		ScheduleID:     a.ScheduleID,
		Description:    a.Description,
		Minutes:        a.Minutes,
		Status:         a.Status,
		CorrectedBy:    a.CorrectedBy,
		CorrectionNote: a.CorrectionNote,
		CorrectionDate: dto.FormatTimePtr(a.CorrectionDate),
		RelatedScanIDs: related,
		Version:        a.Version,
		CreatedAt:      dto.FormatTime(a.CreatedAt),
		UpdatedAt:      dto.FormatTime(a.UpdatedAt),
	}
}
