package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/metrics"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
)

// ── 打卡录入业务错误 ──

var (
	ErrNoSuchSite     = errors.New("站点不存在")
	ErrNoSuchEmployee = errors.New("员工不存在")
	ErrDebounced      = errors.New("打卡过于频繁，请稍后再试")
)

// 同一瞬间的打卡最多顺延次数
const maxNudges = 60

// ScanService 打卡录入业务接口
type ScanService interface {
	// Ingest 录入一次打卡并立即分类与对账；employeeID 由调用方从身份中解析
	Ingest(ctx context.Context, req *dto.IngestScanRequest, employeeID string) (*dto.ScanResponse, error)
}

type scanService struct {
	repo     *repository.Repository
	det      *detector
	locker   lock.Locker
	debounce time.Duration
	logger   *zap.Logger
}

func newScanService(cfg *config.EngineConfig, repo *repository.Repository, det *detector, locker lock.Locker, logger *zap.Logger) ScanService {
	return &scanService{
		repo:     repo,
		det:      det,
		locker:   locker,
		debounce: cfg.IngestDebounce,
		logger:   logger,
	}
}

// ────────────────────── Ingest ──────────────────────

func (s *scanService) Ingest(ctx context.Context, req *dto.IngestScanRequest, employeeID string) (*dto.ScanResponse, error) {
	site, err := s.repo.Site.GetByQRValue(ctx, req.SiteQRValue)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.ObserveRejected("no_such_site")
			return nil, ErrNoSuchSite
		}
		s.logger.Error("按二维码查询站点失败", zap.Error(err))
		return nil, err
	}
	if _, err := s.repo.Employee.GetByID(ctx, employeeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.ObserveRejected("no_such_employee")
			return nil, ErrNoSuchEmployee
		}
		s.logger.Error("查询员工失败", zap.String("employee_id", employeeID), zap.Error(err))
		return nil, err
	}

	policy, err := s.det.defaults.ForSite(site)
	if err != nil {
		s.logger.Error("站点时区无效", zap.String("site_id", site.SiteID), zap.Error(err))
		return nil, err
	}
	loc := policy.Location

	ts := s.det.clock.Now()
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	ts = ts.UTC().Truncate(time.Microsecond)
	local := clock.ToLocal(ts, loc)

	unlock, err := acquire(ctx, s.locker, lock.TripleKey(employeeID, site.SiteID, local.Date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// 1. 去抖：此前 debounce 时长内已有打卡则拒绝
	if s.debounce > 0 {
		prev, err := s.repo.Scan.Latest(ctx, employeeID, site.SiteID, ts.Add(-s.debounce), ts)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			metrics.ObserveRejected("debounced")
			s.logger.Info("打卡被去抖拒绝",
				zap.String("employee_id", employeeID), zap.String("site_id", site.SiteID),
				zap.Time("previous", prev.Timestamp), zap.Time("timestamp", ts))
			return nil, ErrDebounced
		}
	}

	// 2. 推断类型：当天上一次为到岗则本次为离岗，否则为到岗
	kind := req.Kind
	if kind == "" {
		dayStart, _ := clock.DayBounds(local.Date, loc)
		prev, err := s.repo.Scan.Latest(ctx, employeeID, site.SiteID, dayStart, ts)
		if err != nil {
			return nil, err
		}
		kind = inferKind(prev)
	}

	// 3. 同一瞬间已有打卡时顺延 1 秒
	ts, err = s.nudge(ctx, employeeID, site.SiteID, ts)
	if err != nil {
		return nil, err
	}
	local = clock.ToLocal(ts, loc)

	source := req.Source
	if source == "" {
		source = model.ScanSourceQRCode
	}
	scan := &model.Scan{
		EmployeeID:     employeeID,
		SiteID:         site.SiteID,
		Timestamp:      ts,
		Kind:           kind,
		Source:         source,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		CreatedOffline: req.CreatedOffline,
	}
	if req.CreatedOffline {
		now := s.det.clock.Now()
		scan.SyncedAt = &now
	}

	// 4. 写入、分类、对账在同一事务内完成
	var created int
	err = s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Scan.Create(ctx, scan); err != nil {
			return err
		}
		tp := s.det.newPass(tx, false)
		if _, err := s.det.cacheSite(tp, site); err != nil {
			return err
		}
		so, err := s.det.classify(ctx, tx, tp, scan)
		if err != nil {
			return err
		}
		do, err := s.det.reconcile(ctx, tx, tp, employeeID, site.SiteID, local.Date)
		if err != nil {
			return err
		}
		created = so.Created + do.Created
		return nil
	})
	if err != nil {
		s.logger.Error("录入打卡失败",
			zap.String("employee_id", employeeID), zap.String("site_id", site.SiteID), zap.Error(err))
		return nil, err
	}

	anomalies, err := s.repo.Anomaly.ListForDay(ctx, employeeID, site.SiteID, local.Date)
	if err != nil {
		return nil, err
	}

	s.logger.Info("打卡已录入",
		zap.String("scan_id", scan.ScanID),
		zap.String("employee_id", employeeID),
		zap.String("site_id", site.SiteID),
		zap.String("kind", scan.Kind),
		zap.Int("anomalies_created", created),
	)
	return toScanResponse(scan, local.Date, anomalies, created), nil
}

func (s *scanService) nudge(ctx context.Context, employeeID, siteID string, ts time.Time) (time.Time, error) {
	for i := 0; i < maxNudges; i++ {
		exists, err := s.repo.Scan.ExistsAt(ctx, employeeID, siteID, ts)
		if err != nil {
			return ts, err
		}
		if !exists {
			return ts, nil
		}
		ts = ts.Add(time.Second)
	}
	return ts, fmt.Errorf("同一时刻打卡过多: %s", ts.Format(time.RFC3339))
}

func inferKind(prev *model.Scan) string {
	if prev != nil && prev.Kind == model.ScanKindArrival {
		return model.ScanKindDeparture
	}
	return model.ScanKindArrival
}

// ── 转换 ──

func toScanResponse(scan *model.Scan, date clock.Date, anomalies []model.Anomaly, created int) *dto.ScanResponse {
	resp := &dto.ScanResponse{
		ScanID:                scan.ScanID,
		EmployeeID:            scan.EmployeeID,
		SiteID:                scan.SiteID,
		Timestamp:             dto.FormatTime(scan.Timestamp),
		LocalDate:             date.String(),
		Kind:                  scan.Kind,
		Source:                scan.Source,
		IsLate:                scan.IsLate,
		LateMinutes:           scan.LateMinutes,
		IsEarlyDeparture:      scan.IsEarlyDeparture,
		EarlyDepartureMinutes: scan.EarlyDepartureMinutes,
		IsOutOfSchedule:       scan.IsOutOfSchedule,
		IsAmbiguous:           scan.IsAmbiguous,
		MatchedScheduleID:     scan.MatchedScheduleID,
		CreatedOffline:        scan.CreatedOffline,
		AnomaliesCreated:      created,
		Anomalies:             make([]dto.AnomalyResponse, 0, len(anomalies)),
	}
	for i := range anomalies {
		resp.Anomalies = append(resp.Anomalies, *toAnomalyResponse(&anomalies[i]))
	}
	return resp
}
