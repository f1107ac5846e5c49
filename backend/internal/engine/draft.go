package engine

import (
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// 各阶段负责的异常类型：每次计算会清理本阶段已不再成立的异常
var (
	ScanKinds = []string{model.AnomalyLate, model.AnomalyEarlyDeparture, model.AnomalyOutOfSchedule}
	DayKinds  = []string{model.AnomalyConsecutiveSameType, model.AnomalyMissingArrival, model.AnomalyMissingDeparture, model.AnomalyInsufficientHours}
)

// Draft 待写入的异常
type Draft struct {
	Kind           string
	TriggerKey     string // 单次打卡类为打卡 ID，日级为空串
	ScanID         *string
	ScheduleID     *string
	Description    string
	Minutes        int
	RelatedScanIDs []string
}

// Anomaly 将草稿落到 (员工, 站点, 日期) 上
func (d Draft) Anomaly(employeeID, siteID string, date clock.Date) *model.Anomaly {
	return &model.Anomaly{
		EmployeeID:     employeeID,
		SiteID:         siteID,
		Date:           date,
		Kind:           d.Kind,
		TriggerKey:     d.TriggerKey,
		ScanID:         d.ScanID,
		ScheduleID:     d.ScheduleID,
		Description:    d.Description,
		Minutes:        d.Minutes,
		Status:         model.AnomalyStatusPending,
		RelatedScanIDs: d.RelatedScanIDs,
	}
}

// DraftKey 草稿在一天之内的唯一标识
type DraftKey struct {
	Kind       string
	TriggerKey string
}

// Key 返回草稿键
func (d Draft) Key() DraftKey { return DraftKey{Kind: d.Kind, TriggerKey: d.TriggerKey} }

// Keys 汇总一组草稿的键
func Keys(drafts []Draft) map[DraftKey]bool {
	m := make(map[DraftKey]bool, len(drafts))
	for _, d := range drafts {
		m[d.Key()] = true
	}
	return m
}

func scanDraft(kind string, scan *model.Scan, scheduleID *string, desc string, minutes int) Draft {
	id := scan.ScanID
	return Draft{
		Kind:           kind,
		TriggerKey:     id,
		ScanID:         &id,
		ScheduleID:     scheduleID,
		Description:    desc,
		Minutes:        minutes,
		RelatedScanIDs: []string{id},
	}
}

func scanIDs(scans []*model.Scan) []string {
	ids := make([]string, len(scans))
	for i, s := range scans {
		ids[i] = s.ScanID
	}
	return ids
}

func strPtr(s string) *string { return &s }
