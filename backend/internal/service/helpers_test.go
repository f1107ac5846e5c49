package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"pg-pointage/backend/config"
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/lock"
	"pg-pointage/backend/internal/model"
)

// 2024-01-08 为周一
var paris, _ = clock.LoadLocation("Europe/Paris")

const (
	testSiteID     = "site-1"
	testEmployeeID = "emp-1"
	testQR         = "QR-SIEGE"
)

var seedTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			DefaultTimezone:     "Europe/Paris",
			PlausibilityStart:   "07:30",
			PlausibilityEnd:     "19:00",
			ConsecutiveDebounce: 10 * time.Second,
			RapidPairGuard:      60 * time.Second,
			IngestDebounce:      10 * time.Minute,
			RescanDefaultDays:   30,
			LockBackend:         "local",
			LockTTL:             30 * time.Second,
			TieBreaker:          "most_recent",
			Sweep:               config.SweepConfig{Enabled: true, At: "00:30"},
		},
	}
}

// parisTime 解析巴黎本地时间 "2006-01-02 15:04[:05]"
func parisTime(s string) time.Time {
	layout := "2006-01-02 15:04"
	if len(s) > len(layout) {
		layout = "2006-01-02 15:04:05"
	}
	ts, err := time.ParseInLocation(layout, s, paris)
	if err != nil {
		panic(err)
	}
	return ts.UTC()
}

func parisDate(s string) clock.Date {
	d, err := clock.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	t      *testing.T
	store  *memStore
	clock  *clock.Fixed
	locker *lock.Local
	svc    *Service
	site   *model.Site
}

func newFixture(t *testing.T, now string) *fixture {
	return newFixtureWith(t, now, testConfig())
}

func newFixtureWith(t *testing.T, now string, cfg *config.Config) *fixture {
	t.Helper()
	store := newMemStore()
	clk := clock.NewFixed(parisTime(now))
	store.now = clk.Now

	site := &model.Site{
		SiteID:                  testSiteID,
		Name:                    "Siège",
		QRValue:                 testQR,
		Timezone:                "Europe/Paris",
		LateMarginMin:           15,
		EarlyDepartureMarginMin: 15,
		FrequencyTolerancePct:   10,
		IsActive:                true,
	}
	store.sites[site.SiteID] = site
	store.employees[testEmployeeID] = &model.Employee{EmployeeID: testEmployeeID, Name: "Alice Martin", IsActive: true}

	locker := lock.NewLocal()
	svc, err := NewService(cfg, store.repository(), locker, clk, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService 失败: %v", err)
	}
	return &fixture{t: t, store: store, clock: clk, locker: locker, svc: svc, site: site}
}

func todPtr(s string) *clock.TimeOfDay {
	v := clock.MustTimeOfDay(s)
	return &v
}

// addFixed 新增固定排班；windows 形如 "08:00-12:00"
func (f *fixture) addFixed(id string, weekday int, dayType string, windows ...string) *model.Schedule {
	day := &model.ScheduleDay{ScheduleDayID: id + "-d", ScheduleID: id, DayOfWeek: weekday, DayType: dayType}
	bounds := make([][2]*clock.TimeOfDay, len(windows))
	for i, w := range windows {
		parts := strings.SplitN(w, "-", 2)
		bounds[i] = [2]*clock.TimeOfDay{todPtr(parts[0]), todPtr(parts[1])}
	}
	switch {
	case dayType == model.DayTypePM:
		day.Start2, day.End2 = bounds[0][0], bounds[0][1]
	default:
		day.Start1, day.End1 = bounds[0][0], bounds[0][1]
		if len(bounds) > 1 {
			day.Start2, day.End2 = bounds[1][0], bounds[1][1]
		}
	}
	return f.addSchedule(id, model.ScheduleKindFixed, day)
}

// addFrequency 新增频次排班
func (f *fixture) addFrequency(id string, weekday, minutes int) *model.Schedule {
	m := minutes
	day := &model.ScheduleDay{ScheduleDayID: id + "-d", ScheduleID: id, DayOfWeek: weekday, FrequencyDurationMin: &m}
	return f.addSchedule(id, model.ScheduleKindFrequency, day)
}

func (f *fixture) addSchedule(id, kind string, day *model.ScheduleDay) *model.Schedule {
	s := &model.Schedule{ScheduleID: id, SiteID: testSiteID, Name: id, Kind: kind, IsActive: true}
	s.CreatedAt = seedTime
	f.store.schedules[id] = s
	f.store.days[dayStoreKey(id, day.DayOfWeek)] = day
	return s
}

// assign 绑定员工到站点；scheduleID 为空表示无排班
func (f *fixture) assign(scheduleID string) *model.Assignment {
	a := &model.Assignment{
		AssignmentID: fmt.Sprintf("asg-%d", len(f.store.assignments)+1),
		EmployeeID:   testEmployeeID,
		SiteID:       testSiteID,
		IsActive:     true,
	}
	if scheduleID != "" {
		a.ScheduleID = &scheduleID
	}
	a.CreatedAt = seedTime
	f.store.assignments = append(f.store.assignments, a)
	return a
}

// seedScan 直接写入一条打卡（不经过录入路径）
func (f *fixture) seedScan(id, kind, local string) {
	f.store.scans[id] = model.Scan{
		ScanID:     id,
		EmployeeID: testEmployeeID,
		SiteID:     testSiteID,
		Timestamp:  parisTime(local),
		Kind:       kind,
		Source:     model.ScanSourceQRCode,
	}
}

func (f *fixture) ingest(kind, local string) *dto.ScanResponse {
	f.t.Helper()
	resp, err := f.tryIngest(kind, local)
	if err != nil {
		f.t.Fatalf("录入 %s %s 失败: %v", local, kind, err)
	}
	return resp
}

func (f *fixture) tryIngest(kind, local string) (*dto.ScanResponse, error) {
	req := &dto.IngestScanRequest{SiteQRValue: testQR, Kind: kind}
	if local != "" {
		ts := parisTime(local)
		req.Timestamp = &ts
	}
	return f.svc.Scan.Ingest(context.Background(), req, testEmployeeID)
}

func (f *fixture) rescan(start, end string, force bool) *dto.RescanResponse {
	f.t.Helper()
	resp, err := f.svc.Rescan.Rescan(context.Background(), &dto.RescanRequest{
		StartDate:   start,
		EndDate:     end,
		ForceUpdate: force,
	})
	if err != nil {
		f.t.Fatalf("重扫失败: %v", err)
	}
	return resp
}

// anomalies 当前全部异常（含关联打卡），按 (kind, trigger_key) 排序
func (f *fixture) anomalies() []model.Anomaly {
	repo := &mockAnomalyRepo{f.store}
	var out []model.Anomaly
	for _, a := range f.store.anomalies {
		out = append(out, repo.withRelated(a))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].TriggerKey < out[j].TriggerKey
	})
	return out
}

func (f *fixture) scan(id string) model.Scan {
	s, ok := f.store.scans[id]
	if !ok {
		f.t.Fatalf("打卡 %s 不存在", id)
	}
	return s
}

// signature 与打卡 ID 无关的异常指纹，用于比较两条计算路径
func signature(list []model.Anomaly) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = fmt.Sprintf("%s|%d|%s|%d|%s", a.Kind, a.Minutes, a.Description, len(a.RelatedScanIDs), a.Status)
	}
	sort.Strings(out)
	return out
}

func kindsOf(list []model.Anomaly) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Kind
	}
	sort.Strings(out)
	return out
}
