package engine

import (
	"testing"
	"time"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// 2024-01-08 为周一
var paris, _ = clock.LoadLocation("Europe/Paris")

func testSite() *model.Site {
	return &model.Site{
		SiteID:                  "site-1",
		Name:                    "Siège",
		Timezone:                "Europe/Paris",
		LateMarginMin:           15,
		EarlyDepartureMarginMin: 15,
		FrequencyTolerancePct:   10,
		IsActive:                true,
	}
}

func testPolicy(t *testing.T, site *model.Site) Policy {
	t.Helper()
	d := Defaults{
		Timezone:            "Europe/Paris",
		PlausibilityStart:   clock.MustTimeOfDay("07:30"),
		PlausibilityEnd:     clock.MustTimeOfDay("19:00"),
		ConsecutiveDebounce: 10 * time.Second,
		RapidPairGuard:      60 * time.Second,
		TieBreaker:          MostRecent,
	}
	p, err := d.ForSite(site)
	if err != nil {
		t.Fatalf("ForSite 失败: %v", err)
	}
	return p
}

func tod(s string) *clock.TimeOfDay {
	v := clock.MustTimeOfDay(s)
	return &v
}

func intPtr(n int) *int { return &n }

func fixedCandidate(id string, created time.Time, dayType string, w ...string) Candidate {
	day := &model.ScheduleDay{ScheduleID: id, DayOfWeek: 0, DayType: dayType}
	switch dayType {
	case model.DayTypePM:
		day.Start2, day.End2 = tod(w[0]), tod(w[1])
	default:
		day.Start1, day.End1 = tod(w[0]), tod(w[1])
		if len(w) == 4 {
			day.Start2, day.End2 = tod(w[2]), tod(w[3])
		}
	}
	s := &model.Schedule{ScheduleID: id, Kind: model.ScheduleKindFixed, IsActive: true}
	s.CreatedAt = created
	return Candidate{Schedule: s, Day: day}
}

func fullDay(id string) Candidate {
	return fixedCandidate(id, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), model.DayTypeFull,
		"08:00", "12:00", "13:00", "17:00")
}

func frequencyCandidate(id string, minutes int) Candidate {
	s := &model.Schedule{ScheduleID: id, Kind: model.ScheduleKindFrequency, IsActive: true}
	s.CreatedAt = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	return Candidate{Schedule: s, Day: &model.ScheduleDay{ScheduleID: id, DayOfWeek: 1, FrequencyDurationMin: intPtr(minutes)}}
}

// scanAt 以巴黎本地时间 "2006-01-02 15:04[:05]" 构造打卡
func scanAt(id, kind, local string) *model.Scan {
	layout := "2006-01-02 15:04"
	if len(local) > len(layout) {
		layout = "2006-01-02 15:04:05"
	}
	ts, err := time.ParseInLocation(layout, local, paris)
	if err != nil {
		panic(err)
	}
	return &model.Scan{ScanID: id, EmployeeID: "emp-1", SiteID: "site-1", Timestamp: ts.UTC(), Kind: kind}
}

func localOf(s *model.Scan) clock.Local {
	return clock.ToLocal(s.Timestamp, paris)
}

func nowAt(local string) clock.Local {
	ts, err := time.ParseInLocation("2006-01-02 15:04", local, paris)
	if err != nil {
		panic(err)
	}
	return clock.ToLocal(ts, paris)
}

func kinds(drafts []Draft) []string {
	out := make([]string, len(drafts))
	for i, d := range drafts {
		out[i] = d.Kind
	}
	return out
}
