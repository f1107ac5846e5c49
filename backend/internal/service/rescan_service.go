package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/metrics"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
)

// ErrInvalidWindow 重扫日期区间无效
var ErrInvalidWindow = errors.New("重扫日期区间无效")

// RescanService 批量重扫业务接口
type RescanService interface {
	// Rescan 在单个事务内重算区间内的打卡标志与异常；任一步失败则整体回滚
	Rescan(ctx context.Context, req *dto.RescanRequest) (*dto.RescanResponse, error)
}

type rescanService struct {
	repo        *repository.Repository
	det         *detector
	locker      lock.Locker
	defaultDays int
	logger      *zap.Logger
}

func newRescanService(cfg *config.EngineConfig, repo *repository.Repository, det *detector, locker lock.Locker, logger *zap.Logger) RescanService {
	return &rescanService{
		repo:        repo,
		det:         det,
		locker:      locker,
		defaultDays: cfg.RescanDefaultDays,
		logger:      logger,
	}
}

// triple (站点, 员工, 本地日期)，按此顺序加锁
type triple struct {
	siteID     string
	employeeID string
	date       clock.Date
}

func (t triple) String() string {
	return fmt.Sprintf("%s/%s/%s", t.siteID, t.employeeID, t.date)
}

func (t triple) less(o triple) bool {
	if t.siteID != o.siteID {
		return t.siteID < o.siteID
	}
	if t.employeeID != o.employeeID {
		return t.employeeID < o.employeeID
	}
	return t.date.Before(o.date)
}

// ────────────────────── Rescan ──────────────────────

func (s *rescanService) Rescan(ctx context.Context, req *dto.RescanRequest) (*dto.RescanResponse, error) {
	began := time.Now()
	start, end, err := s.window(req)
	if err != nil {
		return nil, err
	}

	result, err := s.run(ctx, req, start, end)

	outcome := metrics.OutcomeSuccess
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeCancelled
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveRescan(time.Since(began), outcome)

	if err != nil {
		s.logger.Error("重扫失败，已回滚",
			zap.String("start", start.String()), zap.String("end", end.String()), zap.Error(err))
		return nil, err
	}
	result.DurationMs = time.Since(began).Milliseconds()

	s.logger.Info("重扫完成",
		zap.String("start", start.String()),
		zap.String("end", end.String()),
		zap.String("site_id", req.SiteID),
		zap.String("employee_id", req.EmployeeID),
		zap.Bool("force_update", req.ForceUpdate),
		zap.Int("scans_processed", result.ScansProcessed),
		zap.Int("scans_updated", result.ScansUpdated),
		zap.Int("anomalies_created", result.AnomaliesCreated),
		zap.Int("absences_detected", result.AbsencesDetected),
		zap.Int("errors_skipped", result.ErrorsSkipped),
	)
	return result, nil
}

// window 解析区间；缺省 end = 今天，start = end − rescan_default_days
func (s *rescanService) window(req *dto.RescanRequest) (clock.Date, clock.Date, error) {
	loc, err := clock.LoadLocation(s.det.defaults.Timezone)
	if err != nil {
		return clock.Date{}, clock.Date{}, err
	}

	end := clock.Today(s.det.clock, loc)
	if req.EndDate != "" {
		if end, err = clock.ParseDate(req.EndDate); err != nil {
			return clock.Date{}, clock.Date{}, fmt.Errorf("%w: end_date: %v", ErrInvalidWindow, err)
		}
	}
	start := end.AddDays(-s.defaultDays)
	if req.StartDate != "" {
		if start, err = clock.ParseDate(req.StartDate); err != nil {
			return clock.Date{}, clock.Date{}, fmt.Errorf("%w: start_date: %v", ErrInvalidWindow, err)
		}
	}
	if start.After(end) {
		return clock.Date{}, clock.Date{}, fmt.Errorf("%w: %s 晚于 %s", ErrInvalidWindow, start, end)
	}
	return start, end, nil
}

func (s *rescanService) run(ctx context.Context, req *dto.RescanRequest, start, end clock.Date) (*dto.RescanResponse, error) {
	result := &dto.RescanResponse{StartDate: start.String(), EndDate: end.String()}

	// 三元组锁持有到事务提交之后
	var held []func()
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}()

	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		p := s.det.newPass(tx, true)

		// 1. UTC 超集窗口取数，再按站点本地日期过滤
		scans, err := tx.Scan.ListWindow(ctx, repository.ScanFilter{
			From:       start.AddDays(-1).In(time.UTC),
			To:         end.AddDays(2).In(time.UTC),
			SiteID:     req.SiteID,
			EmployeeID: req.EmployeeID,
		})
		if err != nil {
			return err
		}

		groups := make(map[triple][]*model.Scan)
		var selected []*model.Scan
		for _, sc := range scans {
			e, err := s.det.site(ctx, tx, p, sc.SiteID)
			if err != nil {
				if !req.IgnoreErrors {
					return fmt.Errorf("打卡 %s: %w", sc.ScanID, err)
				}
				result.ErrorsSkipped++
				s.logger.Warn("重扫跳过打卡", zap.String("scan_id", sc.ScanID), zap.Error(err))
				continue
			}
			date := clock.ToLocal(sc.Timestamp, e.policy.Location).Date
			if date.Before(start) || date.After(end) {
				continue
			}
			t := triple{siteID: sc.SiteID, employeeID: sc.EmployeeID, date: date}
			groups[t] = append(groups[t], sc)
			selected = append(selected, sc)
		}
		result.ScansProcessed = len(selected)

		before := make(map[string]model.ScanFlags, len(selected))
		for _, sc := range selected {
			before[sc.ScanID] = sc.ScanFlags
		}

		// 2. 无打卡日
		absent := map[triple]bool{}
		if req.ShouldCheckAbsences() {
			if absent, err = s.absences(ctx, tx, p, req, start, end, groups); err != nil {
				return err
			}
		}

		order := make([]triple, 0, len(groups)+len(absent))
		for t := range groups {
			order = append(order, t)
		}
		for t := range absent {
			order = append(order, t)
		}
		sort.Slice(order, func(i, j int) bool { return order[i].less(order[j]) })

		// 3. 写入前按 (站点, 员工, 日期) 升序取全部三元组锁
		for _, t := range order {
			unlock, err := acquire(ctx, s.locker, lock.TripleKey(t.employeeID, t.siteID, t.date))
			if err != nil {
				return err
			}
			held = append(held, unlock)
		}

		// 4. 强制模式：清空区间内异常并重置标志
		if req.ForceUpdate {
			deleted, err := tx.Anomaly.DeleteWhere(ctx, repository.AnomalyFilter{
				From: start, To: end, SiteID: req.SiteID, EmployeeID: req.EmployeeID,
			})
			if err != nil {
				return err
			}
			ids := make([]string, len(selected))
			for i, sc := range selected {
				ids[i] = sc.ScanID
				sc.ScanFlags = model.ScanFlags{}
			}
			if err := tx.Scan.ResetFlags(ctx, ids); err != nil {
				return err
			}
			s.logger.Info("强制重扫：已清理异常并重置标志",
				zap.Int64("anomalies_deleted", deleted), zap.Int("scans_reset", len(ids)))
		}

		// 5. 逐个三元组：分类每次打卡，再对账当天
		for _, t := range order {
			if err := ctx.Err(); err != nil {
				return deadline(fmt.Errorf("重扫在 %s 处中止: %w", t, err))
			}
			if err := s.processTriple(ctx, tx, p, t, groups[t], req.IgnoreErrors, result); err != nil {
				return err
			}
		}

		for _, sc := range selected {
			if !sc.ScanFlags.Equal(before[sc.ScanID]) {
				result.ScansUpdated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *rescanService) processTriple(ctx context.Context, tx *repository.Repository, p *pass, t triple,
	scans []*model.Scan, ignoreErrors bool, result *dto.RescanResponse) error {

	for _, sc := range scans {
		flags := sc.ScanFlags
		var out scanOutcome
		err := s.step(ctx, tx, ignoreErrors, func(r *repository.Repository) error {
			var err error
			out, err = s.det.classify(ctx, r, p, sc)
			return err
		})
		if err != nil {
			if !ignoreErrors {
				return err
			}
			sc.ScanFlags = flags
			result.ErrorsSkipped++
			s.logger.Warn("重扫跳过打卡", zap.String("scan_id", sc.ScanID), zap.Error(err))
			continue
		}
		result.AnomaliesCreated += out.Created
	}

	var out dayOutcome
	err := s.step(ctx, tx, ignoreErrors, func(r *repository.Repository) error {
		var err error
		out, err = s.det.reconcile(ctx, r, p, t.employeeID, t.siteID, t.date)
		return err
	})
	if err != nil {
		if !ignoreErrors {
			return err
		}
		result.ErrorsSkipped++
		s.logger.Warn("重扫跳过日终对账", zap.Stringer("triple", t), zap.Error(err))
		return nil
	}
	result.AnomaliesCreated += out.Created
	if len(scans) == 0 {
		for _, d := range out.Drafts {
			if d.Kind == model.AnomalyMissingArrival {
				result.AbsencesDetected++
			}
		}
	}
	return nil
}

// step ignore_errors 时每一步在独立保存点内执行，失败只回滚该步
func (s *rescanService) step(ctx context.Context, tx *repository.Repository, savepoint bool, fn func(*repository.Repository) error) error {
	if !savepoint {
		return fn(tx)
	}
	return tx.Transaction(ctx, fn)
}

// absences 列出有启用排班但区间内无打卡的 (站点, 员工, 日期)
// 起点取 max(区间起点, 排班创建日, 绑定创建日)，终点不晚于站点本地的昨天
func (s *rescanService) absences(ctx context.Context, tx *repository.Repository, p *pass, req *dto.RescanRequest,
	start, end clock.Date, present map[triple][]*model.Scan) (map[triple]bool, error) {

	assignments, err := tx.Assignment.ListScheduled(ctx, repository.AssignmentFilter{
		SiteID: req.SiteID, EmployeeID: req.EmployeeID,
	})
	if err != nil {
		return nil, err
	}

	out := make(map[triple]bool)
	for _, a := range assignments {
		e, err := s.det.site(ctx, tx, p, a.SiteID)
		if err != nil {
			if errors.Is(err, ErrNoSuchSite) {
				s.logger.Warn("绑定指向不存在的站点", zap.String("assignment_id", a.AssignmentID))
				continue
			}
			return nil, err
		}
		schedule, err := p.resolver.Schedule(ctx, *a.ScheduleID)
		if err != nil {
			s.logger.Warn("跳过排班",
				zap.String("schedule_id", *a.ScheduleID), zap.Error(fmt.Errorf("%w: %v", ErrScheduleLookupFailed, err)))
			continue
		}

		loc := e.policy.Location
		from := clock.MaxDate(start, clock.MaxDate(
			clock.ToLocal(schedule.CreatedAt, loc).Date,
			clock.ToLocal(a.CreatedAt, loc).Date,
		))
		to := end
		if yesterday := clock.Today(s.det.clock, loc).AddDays(-1); to.After(yesterday) {
			to = yesterday
		}
		for d := from; !d.After(to); d = d.AddDays(1) {
			t := triple{siteID: a.SiteID, employeeID: a.EmployeeID, date: d}
			if _, ok := present[t]; ok {
				continue
			}
			out[t] = true
		}
	}
	return out, nil
}
