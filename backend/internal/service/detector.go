package service

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/engine"
	"pg-pointage/backend/internal/metrics"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
	pkgerrors "pg-pointage/backend/pkg/errors"
)

// detector 负责分类与对账的读写部分：解析排班、调用引擎、写回标志与异常
// 无状态；每次录入或重扫各自持有一个 pass
type detector struct {
	defaults engine.Defaults
	clock    clock.Clock
	logger   *zap.Logger
}

// pass 单次调用内的站点与排班缓存
type pass struct {
	resolver *ScheduleResolver
	sites    map[string]*siteEntry
}

type siteEntry struct {
	site   *model.Site
	policy engine.Policy
}

func (d *detector) newPass(repo *repository.Repository, memo bool) *pass {
	return &pass{
		resolver: NewScheduleResolver(repo, d.logger, memo),
		sites:    make(map[string]*siteEntry),
	}
}

func (d *detector) site(ctx context.Context, repo *repository.Repository, p *pass, siteID string) (*siteEntry, error) {
	if e, ok := p.sites[siteID]; ok {
		return e, nil
	}
	site, err := repo.Site.GetByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoSuchSite
		}
		return nil, err
	}
	return d.cacheSite(p, site)
}

func (d *detector) cacheSite(p *pass, site *model.Site) (*siteEntry, error) {
	policy, err := d.defaults.ForSite(site)
	if err != nil {
		d.logger.Error("站点时区无效", zap.String("site_id", site.SiteID), zap.String("timezone", site.Timezone), zap.Error(err))
		return nil, err
	}
	e := &siteEntry{site: site, policy: policy}
	p.sites[site.SiteID] = e
	return e, nil
}

// ── 单次打卡分类 ──

type scanOutcome struct {
	Created      int
	FlagsChanged bool
}

// classify 分类一次打卡：写回派生标志，写入本次成立的单次打卡类异常，清理不再成立的
func (d *detector) classify(ctx context.Context, repo *repository.Repository, p *pass, scan *model.Scan) (scanOutcome, error) {
	var out scanOutcome

	e, err := d.site(ctx, repo, p, scan.SiteID)
	if err != nil {
		return out, err
	}
	local := clock.ToLocal(scan.Timestamp, e.policy.Location)

	in := engine.ScanInput{Scan: scan, Site: e.site, Local: local, Policy: e.policy}
	if !e.site.ActiveOn(local.Date) {
		in.Gate = engine.GateSiteInactive
	} else {
		res, err := p.resolver.Resolve(ctx, scan.EmployeeID, scan.SiteID, local.Date)
		switch {
		case errors.Is(err, ErrNoAssignment):
			in.Gate = engine.GateNotLinked
		case err != nil:
			return out, err
		case res.Scheduled == 0:
			in.Gate = engine.GateNoActiveSchedule
		case len(res.Candidates) == 0:
			in.Gate = engine.GateNoScheduleForDay
		default:
			in.Candidates = res.Candidates
		}
	}

	cls := engine.Classify(in)
	d.logger.Debug("打卡分类完成",
		zap.String("scan_id", scan.ScanID),
		zap.String("kind", scan.Kind),
		zap.String("local", local.Time.Clock()),
		zap.Int("gate", int(in.Gate)),
		zap.Int("matches", len(cls.Matches)),
	)

	if !scan.ScanFlags.Equal(cls.Flags) {
		if err := repo.Scan.UpdateFlags(ctx, scan.ScanID, cls.Flags); err != nil {
			d.logger.Error("更新打卡标志失败", zap.String("scan_id", scan.ScanID), zap.Error(err))
			return out, err
		}
		scan.ScanFlags = cls.Flags
		out.FlagsChanged = true
	}
	metrics.ObserveScan(scanResult(cls.Flags))

	for _, draft := range cls.Anomalies {
		created, err := d.upsert(ctx, repo, draft.Anomaly(scan.EmployeeID, scan.SiteID, local.Date))
		if err != nil {
			return out, err
		}
		if created {
			out.Created++
		}
	}

	existing, err := repo.Anomaly.ListForDay(ctx, scan.EmployeeID, scan.SiteID, local.Date)
	if err != nil {
		return out, err
	}
	keep := engine.Keys(cls.Anomalies)
	err = d.prune(ctx, repo, existing, engine.ScanKinds, keep, func(a *model.Anomaly) bool {
		return a.TriggerKey == scan.ScanID
	})
	return out, err
}

func scanResult(f model.ScanFlags) string {
	switch {
	case f.IsOutOfSchedule:
		return "out_of_schedule"
	case f.IsLate:
		return "late"
	case f.IsEarlyDeparture:
		return "early_departure"
	case f.IsAmbiguous:
		return "ambiguous"
	}
	return "on_time"
}

// ── 日终对账 ──

type dayOutcome struct {
	Created int
	Drafts  []engine.Draft
	Closed  bool
}

// reconcile 汇总 (员工, 站点, 本地日期) 当天的全部打卡并同步日级异常
func (d *detector) reconcile(ctx context.Context, repo *repository.Repository, p *pass, employeeID, siteID string, date clock.Date) (dayOutcome, error) {
	var out dayOutcome

	e, err := d.site(ctx, repo, p, siteID)
	if err != nil {
		return out, err
	}
	from, to := clock.DayBounds(date, e.policy.Location)
	scans, err := repo.Scan.ListRange(ctx, employeeID, siteID, from, to)
	if err != nil {
		return out, err
	}

	var cands []engine.Candidate
	if e.site.ActiveOn(date) {
		res, err := p.resolver.Resolve(ctx, employeeID, siteID, date)
		switch {
		case errors.Is(err, ErrNoAssignment):
		case err != nil:
			return out, err
		default:
			cands = res.Candidates
		}
	}

	dr := engine.Reconcile(engine.DayInput{
		Site:       e.site,
		Date:       date,
		Scans:      scans,
		Candidates: cands,
		Policy:     e.policy,
		Now:        clock.ToLocal(d.clock.Now(), e.policy.Location),
	})
	out.Drafts = dr.Drafts
	out.Closed = dr.Closed

	for _, draft := range dr.Drafts {
		created, err := d.upsert(ctx, repo, draft.Anomaly(employeeID, siteID, date))
		if err != nil {
			return out, err
		}
		if created {
			out.Created++
		}
	}

	existing, err := repo.Anomaly.ListForDay(ctx, employeeID, siteID, date)
	if err != nil {
		return out, err
	}
	err = d.prune(ctx, repo, existing, engine.DayKinds, engine.Keys(dr.Drafts), func(*model.Anomaly) bool { return true })
	return out, err
}

// ── 异常存储 ──

// upsert 在保存点内写入；唯一键冲突（并发插入）时重试一次
func (d *detector) upsert(ctx context.Context, repo *repository.Repository, a *model.Anomaly) (bool, error) {
	var created bool
	write := func() error {
		return repo.Transaction(ctx, func(tx *repository.Repository) error {
			var err error
			created, err = tx.Anomaly.Upsert(ctx, a)
			return err
		})
	}

	err := write()
	if errors.Is(err, pkgerrors.ErrConflictingUpsert) {
		d.logger.Warn("异常写入冲突，重试一次",
			zap.String("employee_id", a.EmployeeID), zap.String("date", a.Date.String()), zap.String("kind", a.Kind))
		a.AnomalyID = ""
		err = write()
	}
	if err != nil {
		d.logger.Error("写入异常失败",
			zap.String("employee_id", a.EmployeeID), zap.String("site_id", a.SiteID),
			zap.String("date", a.Date.String()), zap.String("kind", a.Kind), zap.Error(err))
		return false, err
	}
	metrics.ObserveUpsert(a.Kind, created)
	return created, nil
}

// prune 删除本阶段负责、仍待审核、但本次计算不再成立的异常
// 已审核（JUSTIFIED / REJECTED）的记录保留
func (d *detector) prune(ctx context.Context, repo *repository.Repository, existing []model.Anomaly,
	owned []string, keep map[engine.DraftKey]bool, match func(*model.Anomaly) bool) error {

	var stale []string
	var kinds []string
	for i := range existing {
		a := &existing[i]
		if a.Status != model.AnomalyStatusPending || !slices.Contains(owned, a.Kind) || !match(a) {
			continue
		}
		if keep[engine.DraftKey{Kind: a.Kind, TriggerKey: a.TriggerKey}] {
			continue
		}
		stale = append(stale, a.AnomalyID)
		kinds = append(kinds, a.Kind)
	}
	if len(stale) == 0 {
		return nil
	}
	if err := repo.Anomaly.DeleteByIDs(ctx, stale); err != nil {
		d.logger.Error("清理失效异常失败", zap.Strings("anomaly_ids", stale), zap.Error(err))
		return err
	}
	for _, k := range kinds {
		metrics.ObserveResolved(k)
	}
	return nil
}
