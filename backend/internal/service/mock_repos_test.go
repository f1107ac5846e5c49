package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
	"pg-pointage/backend/internal/repository"
	pkgerrors "pg-pointage/backend/pkg/errors"
)

// memStore 各 mock 仓储共享的内存数据
// 打卡与异常均按值存取，调用方拿到的是副本，行为与数据库一致
type memStore struct {
	sites       map[string]*model.Site
	employees   map[string]*model.Employee
	schedules   map[string]*model.Schedule
	days        map[string]*model.ScheduleDay
	assignments []*model.Assignment
	scans       map[string]model.Scan
	anomalies   map[string]model.Anomaly
	related     map[string]map[string]bool

	now func() time.Time

	// 下一次 Upsert 模拟并发插入：先写入再返回冲突
	conflictOnce bool
	// 分类某次打卡时让 UpdateFlags 失败
	failFlagsFor string
	// 读取排班失败的 ID
	brokenSchedule string
}

func newMemStore() *memStore {
	return &memStore{
		sites:     make(map[string]*model.Site),
		employees: make(map[string]*model.Employee),
		schedules: make(map[string]*model.Schedule),
		days:      make(map[string]*model.ScheduleDay),
		scans:     make(map[string]model.Scan),
		anomalies: make(map[string]model.Anomaly),
		related:   make(map[string]map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func dayStoreKey(scheduleID string, dow int) string {
	return fmt.Sprintf("%s#%d", scheduleID, dow)
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Site:       &mockSiteRepo{m},
		Schedule:   &mockScheduleRepo{m},
		Assignment: &mockAssignmentRepo{m},
		Employee:   &mockEmployeeRepo{m},
		Scan:       &mockScanRepo{m},
		Anomaly:    &mockAnomalyRepo{m},
	}
}

// ── Mock SiteRepository ──

type mockSiteRepo struct{ m *memStore }

func (r *mockSiteRepo) GetByID(_ context.Context, id string) (*model.Site, error) {
	if s, ok := r.m.sites[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockSiteRepo) GetByQRValue(_ context.Context, qr string) (*model.Site, error) {
	for _, s := range r.m.sites {
		if s.QRValue == qr {
			return s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock EmployeeRepository ──

type mockEmployeeRepo struct{ m *memStore }

func (r *mockEmployeeRepo) GetByID(_ context.Context, id string) (*model.Employee, error) {
	if e, ok := r.m.employees[id]; ok {
		return e, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock ScheduleRepository ──

type mockScheduleRepo struct{ m *memStore }

func (r *mockScheduleRepo) GetByID(_ context.Context, id string) (*model.Schedule, error) {
	if id == r.m.brokenSchedule {
		return nil, fmt.Errorf("连接已断开")
	}
	if s, ok := r.m.schedules[id]; ok {
		return s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockScheduleRepo) GetDay(_ context.Context, scheduleID string, dow int) (*model.ScheduleDay, error) {
	if d, ok := r.m.days[dayStoreKey(scheduleID, dow)]; ok {
		return d, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// ── Mock AssignmentRepository ──

type mockAssignmentRepo struct{ m *memStore }

func (r *mockAssignmentRepo) ListActive(_ context.Context, employeeID, siteID string) ([]model.Assignment, error) {
	var out []model.Assignment
	for _, a := range r.m.assignments {
		if a.IsActive && a.EmployeeID == employeeID && a.SiteID == siteID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *mockAssignmentRepo) ListScheduled(_ context.Context, f repository.AssignmentFilter) ([]model.Assignment, error) {
	var out []model.Assignment
	for _, a := range r.m.assignments {
		if !a.IsActive || a.ScheduleID == nil {
			continue
		}
		if (f.SiteID != "" && a.SiteID != f.SiteID) || (f.EmployeeID != "" && a.EmployeeID != f.EmployeeID) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

// ── Mock ScanRepository ──

type mockScanRepo struct{ m *memStore }

func (r *mockScanRepo) Create(_ context.Context, scan *model.Scan) error {
	if scan.ScanID == "" {
		scan.ScanID = model.NewID()
	}
	scan.Timestamp = scan.Timestamp.UTC()
	r.m.scans[scan.ScanID] = *scan
	return nil
}

func (r *mockScanRepo) GetByID(_ context.Context, id string) (*model.Scan, error) {
	if s, ok := r.m.scans[id]; ok {
		return &s, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *mockScanRepo) sorted(keep func(*model.Scan) bool) []*model.Scan {
	var out []*model.Scan
	for _, s := range r.m.scans {
		s := s
		if keep(&s) {
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ScanID < out[j].ScanID
	})
	return out
}

func inRange(ts, from, to time.Time) bool {
	return !ts.Before(from) && ts.Before(to)
}

func (r *mockScanRepo) Latest(_ context.Context, employeeID, siteID string, from, to time.Time) (*model.Scan, error) {
	list := r.sorted(func(s *model.Scan) bool {
		return s.EmployeeID == employeeID && s.SiteID == siteID && inRange(s.Timestamp, from, to)
	})
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (r *mockScanRepo) ExistsAt(_ context.Context, employeeID, siteID string, ts time.Time) (bool, error) {
	for _, s := range r.m.scans {
		if s.EmployeeID == employeeID && s.SiteID == siteID && s.Timestamp.Equal(ts) {
			return true, nil
		}
	}
	return false, nil
}

func (r *mockScanRepo) ListRange(_ context.Context, employeeID, siteID string, from, to time.Time) ([]*model.Scan, error) {
	return r.sorted(func(s *model.Scan) bool {
		return s.EmployeeID == employeeID && s.SiteID == siteID && inRange(s.Timestamp, from, to)
	}), nil
}

func (r *mockScanRepo) ListWindow(_ context.Context, f repository.ScanFilter) ([]*model.Scan, error) {
	return r.sorted(func(s *model.Scan) bool {
		if f.SiteID != "" && s.SiteID != f.SiteID {
			return false
		}
		if f.EmployeeID != "" && s.EmployeeID != f.EmployeeID {
			return false
		}
		return inRange(s.Timestamp, f.From, f.To)
	}), nil
}

func (r *mockScanRepo) UpdateFlags(_ context.Context, scanID string, flags model.ScanFlags) error {
	if scanID == r.m.failFlagsFor {
		return fmt.Errorf("写入打卡 %s 失败", scanID)
	}
	s, ok := r.m.scans[scanID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.ScanFlags = flags
	r.m.scans[scanID] = s
	return nil
}

func (r *mockScanRepo) ResetFlags(_ context.Context, ids []string) error {
	for _, id := range ids {
		if s, ok := r.m.scans[id]; ok {
			s.ScanFlags = model.ScanFlags{}
			r.m.scans[id] = s
		}
	}
	return nil
}

// ── Mock AnomalyRepository ──

type mockAnomalyRepo struct{ m *memStore }

func (r *mockAnomalyRepo) find(key model.AnomalyKey) (model.Anomaly, bool) {
	for _, a := range r.m.anomalies {
		if a.Key() == key {
			return a, true
		}
	}
	return model.Anomaly{}, false
}

func (r *mockAnomalyRepo) insert(a *model.Anomaly) {
	if a.AnomalyID == "" {
		a.AnomalyID = model.NewID()
	}
	if a.Status == "" {
		a.Status = model.AnomalyStatusPending
	}
	a.Version = 1
	a.CreatedAt = r.m.now()
	a.UpdatedAt = a.CreatedAt
	stored := *a
	stored.RelatedScanIDs = nil
	r.m.anomalies[a.AnomalyID] = stored
}

func (r *mockAnomalyRepo) Upsert(ctx context.Context, a *model.Anomaly) (bool, error) {
	existing, ok := r.find(a.Key())
	if !ok {
		if r.m.conflictOnce {
			// 另一个写入方抢先插入了同一唯一键
			r.m.conflictOnce = false
			other := *a
			other.AnomalyID = ""
			r.insert(&other)
			return false, fmt.Errorf("%w: %s", pkgerrors.ErrConflictingUpsert, a.Kind)
		}
		r.insert(a)
		return true, r.AttachRelated(ctx, a.AnomalyID, a.RelatedScanIDs)
	}

	existing.Description = a.Description
	existing.Minutes = a.Minutes
	if a.ScanID != nil {
		existing.ScanID = a.ScanID
	}
	if a.ScheduleID != nil {
		existing.ScheduleID = a.ScheduleID
	}
	existing.UpdatedAt = r.m.now()
	r.m.anomalies[existing.AnomalyID] = existing

	a.AnomalyID = existing.AnomalyID
	a.Status = existing.Status
	a.CorrectedBy = existing.CorrectedBy
	a.CorrectionNote = existing.CorrectionNote
	a.CorrectionDate = existing.CorrectionDate
	a.Version = existing.Version
	return false, r.AttachRelated(ctx, existing.AnomalyID, a.RelatedScanIDs)
}

func (r *mockAnomalyRepo) AttachRelated(_ context.Context, anomalyID string, scanIDs []string) error {
	if r.m.related[anomalyID] == nil {
		r.m.related[anomalyID] = make(map[string]bool)
	}
	for _, id := range scanIDs {
		r.m.related[anomalyID][id] = true
	}
	return nil
}

func (r *mockAnomalyRepo) withRelated(a model.Anomaly) model.Anomaly {
	a.RelatedScanIDs = []string{}
	for id := range r.m.related[a.AnomalyID] {
		a.RelatedScanIDs = append(a.RelatedScanIDs, id)
	}
	sort.Strings(a.RelatedScanIDs)
	return a
}

func (r *mockAnomalyRepo) ListForDay(_ context.Context, employeeID, siteID string, date clock.Date) ([]model.Anomaly, error) {
	var out []model.Anomaly
	for _, a := range r.m.anomalies {
		if a.EmployeeID == employeeID && a.SiteID == siteID && a.Date == date {
			out = append(out, r.withRelated(a))
		}
	}
	sortAnomalies(out)
	return out, nil
}

func (r *mockAnomalyRepo) DeleteByIDs(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(r.m.anomalies, id)
		delete(r.m.related, id)
	}
	return nil
}

func matchFilter(a model.Anomaly, f repository.AnomalyFilter) bool {
	switch {
	case !f.From.IsZero() && a.Date.Before(f.From):
		return false
	case !f.To.IsZero() && a.Date.After(f.To):
		return false
	case f.SiteID != "" && a.SiteID != f.SiteID:
		return false
	case f.EmployeeID != "" && a.EmployeeID != f.EmployeeID:
		return false
	case f.Kind != "" && a.Kind != f.Kind:
		return false
	case f.Status != "" && a.Status != f.Status:
		return false
	}
	return true
}

func (r *mockAnomalyRepo) DeleteWhere(ctx context.Context, f repository.AnomalyFilter) (int64, error) {
	var ids []string
	for id, a := range r.m.anomalies {
		if matchFilter(a, f) {
			ids = append(ids, id)
		}
	}
	return int64(len(ids)), r.DeleteByIDs(ctx, ids)
}

func (r *mockAnomalyRepo) GetByID(_ context.Context, id string) (*model.Anomaly, error) {
	a, ok := r.m.anomalies[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	a = r.withRelated(a)
	return &a, nil
}

func (r *mockAnomalyRepo) List(_ context.Context, f repository.AnomalyFilter, offset, limit int) ([]model.Anomaly, int64, error) {
	var all []model.Anomaly
	for _, a := range r.m.anomalies {
		if matchFilter(a, f) {
			all = append(all, r.withRelated(a))
		}
	}
	sortAnomalies(all)
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Anomaly{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *mockAnomalyRepo) UpdateReview(_ context.Context, a *model.Anomaly) error {
	stored, ok := r.m.anomalies[a.AnomalyID]
	if !ok || stored.Version != a.Version {
		return pkgerrors.ErrOptimisticLock
	}
	stored.Status = a.Status
	stored.CorrectedBy = a.CorrectedBy
	stored.CorrectionNote = a.CorrectionNote
	stored.CorrectionDate = a.CorrectionDate
	stored.Version++
	r.m.anomalies[a.AnomalyID] = stored
	a.Version = stored.Version
	return nil
}

func sortAnomalies(list []model.Anomaly) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.Date != b.Date {
			return a.Date.After(b.Date)
		}
		if a.EmployeeID != b.EmployeeID {
			return a.EmployeeID < b.EmployeeID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.TriggerKey < b.TriggerKey
	})
}
