package service

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"pg-pointage/backend/internal/model"
)

type scenarioFile struct {
	Scenarios []scenario `yaml:"scenarios"`
}

type scenario struct {
	Name     string `yaml:"name"`
	Date     string `yaml:"date"`
	Now      string `yaml:"now"`
	Schedule struct {
		Kind    string   `yaml:"kind"`
		Weekday int      `yaml:"weekday"`
		DayType string   `yaml:"day_type"`
		Windows []string `yaml:"windows"`
		Minutes int      `yaml:"minutes"`
	} `yaml:"schedule"`
	Scans  []string `yaml:"scans"`
	Expect struct {
		Anomalies []expectedAnomaly `yaml:"anomalies"`
		Flags     []expectedFlags   `yaml:"flags"`
	} `yaml:"expect"`
}

type expectedAnomaly struct {
	Kind        string `yaml:"kind"`
	Minutes     int    `yaml:"minutes"`
	Description string `yaml:"description"`
	Related     int    `yaml:"related"`
}

type expectedFlags struct {
	Scan                  int  `yaml:"scan"`
	IsLate                bool `yaml:"is_late"`
	LateMinutes           int  `yaml:"late_minutes"`
	IsEarlyDeparture      bool `yaml:"is_early_departure"`
	EarlyDepartureMinutes int  `yaml:"early_departure_minutes"`
	IsOutOfSchedule       bool `yaml:"is_out_of_schedule"`
}

type scanLine struct {
	local string
	kind  string
}

func loadScenarios(t *testing.T) []scenario {
	t.Helper()
	data, err := os.ReadFile("testdata/scenarios.yaml")
	if err != nil {
		t.Fatalf("读取场景文件失败: %v", err)
	}
	var file scenarioFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("解析场景文件失败: %v", err)
	}
	if len(file.Scenarios) == 0 {
		t.Fatal("场景文件为空")
	}
	return file.Scenarios
}

func (sc scenario) lines(t *testing.T) []scanLine {
	out := make([]scanLine, len(sc.Scans))
	for i, raw := range sc.Scans {
		parts := strings.Fields(raw)
		if len(parts) != 3 {
			t.Fatalf("%s: 打卡格式错误 %q", sc.Name, raw)
		}
		out[i] = scanLine{local: parts[0] + " " + parts[1], kind: parts[2]}
	}
	return out
}

func (sc scenario) setup(t *testing.T) *fixture {
	f := newFixture(t, sc.Now)
	s := sc.Schedule
	switch s.Kind {
	case model.ScheduleKindFixed:
		f.addFixed("sch-1", s.Weekday, s.DayType, s.Windows...)
	case model.ScheduleKindFrequency:
		f.addFrequency("sch-1", s.Weekday, s.Minutes)
	default:
		t.Fatalf("%s: 未知排班类型 %q", sc.Name, s.Kind)
	}
	f.assign("sch-1")
	return f
}

func (sc scenario) check(t *testing.T, got []model.Anomaly) {
	t.Helper()
	want := make([]string, len(sc.Expect.Anomalies))
	for i, e := range sc.Expect.Anomalies {
		want[i] = e.Kind
	}
	if fmt.Sprint(kindsOf(got)) != fmt.Sprint(sortedCopy(want)) {
		t.Fatalf("期望异常 %v，实际=%v", sortedCopy(want), kindsOf(got))
	}
	for _, e := range sc.Expect.Anomalies {
		a := findKind(got, e.Kind)
		if a.Minutes != e.Minutes {
			t.Errorf("%s: 期望 minutes=%d，实际=%d", e.Kind, e.Minutes, a.Minutes)
		}
		if e.Description != "" && a.Description != e.Description {
			t.Errorf("%s: 期望描述 %q，实际=%q", e.Kind, e.Description, a.Description)
		}
		if e.Related > 0 && len(a.RelatedScanIDs) != e.Related {
			t.Errorf("%s: 期望关联 %d 次打卡，实际=%d", e.Kind, e.Related, len(a.RelatedScanIDs))
		}
		if a.Status != model.AnomalyStatusPending {
			t.Errorf("%s: 新异常应为 PENDING，实际=%s", e.Kind, a.Status)
		}
	}
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func findKind(list []model.Anomaly, kind string) model.Anomaly {
	for _, a := range list {
		if a.Kind == kind {
			return a
		}
	}
	return model.Anomaly{}
}

// TestScenarios_Rescan 对预置打卡执行强制重扫
func TestScenarios_Rescan(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			f := sc.setup(t)
			lines := sc.lines(t)
			for i, l := range lines {
				f.seedScan(fmt.Sprintf("s%d", i+1), l.kind, l.local)
			}

			res := f.rescan(sc.Date, sc.Date, true)
			if res.ScansProcessed != len(lines) {
				t.Errorf("期望处理 %d 次打卡，实际=%d", len(lines), res.ScansProcessed)
			}
			if res.AnomaliesCreated != len(sc.Expect.Anomalies) {
				t.Errorf("期望新建 %d 条异常，实际=%d", len(sc.Expect.Anomalies), res.AnomaliesCreated)
			}
			sc.check(t, f.anomalies())

			for _, ef := range sc.Expect.Flags {
				s := f.scan(fmt.Sprintf("s%d", ef.Scan+1))
				if s.IsLate != ef.IsLate || s.LateMinutes != ef.LateMinutes {
					t.Errorf("打卡 %d: 期望 is_late=%v/%d，实际=%v/%d", ef.Scan, ef.IsLate, ef.LateMinutes, s.IsLate, s.LateMinutes)
				}
				if s.IsEarlyDeparture != ef.IsEarlyDeparture || s.EarlyDepartureMinutes != ef.EarlyDepartureMinutes {
					t.Errorf("打卡 %d: 期望 is_early_departure=%v/%d，实际=%v/%d",
						ef.Scan, ef.IsEarlyDeparture, ef.EarlyDepartureMinutes, s.IsEarlyDeparture, s.EarlyDepartureMinutes)
				}
				if s.IsOutOfSchedule != ef.IsOutOfSchedule {
					t.Errorf("打卡 %d: 期望 is_out_of_schedule=%v，实际=%v", ef.Scan, ef.IsOutOfSchedule, s.IsOutOfSchedule)
				}
			}
		})
	}
}

// TestScenarios_IncrementalMatchesRescan 逐条录入的结果与随后强制重扫一致
func TestScenarios_IncrementalMatchesRescan(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			f := sc.setup(t)
			for _, l := range sc.lines(t) {
				f.ingest(l.kind, l.local)
			}
			incremental := f.anomalies()
			sc.check(t, incremental)

			f.rescan(sc.Date, sc.Date, true)
			rescanned := f.anomalies()
			if !reflect.DeepEqual(signature(incremental), signature(rescanned)) {
				t.Errorf("逐条录入与重扫结果不一致:\n录入=%v\n重扫=%v", signature(incremental), signature(rescanned))
			}
		})
	}
}

// TestScenarios_RescanIdempotent 连续两次强制重扫结果逐字段一致（不含主键与审计时间）
func TestScenarios_RescanIdempotent(t *testing.T) {
	strip := func(list []model.Anomaly) []model.Anomaly {
		out := make([]model.Anomaly, len(list))
		for i, a := range list {
			a.AnomalyID = ""
			a.CreatedAt, a.UpdatedAt = seedTime, seedTime
			out[i] = a
		}
		return out
	}

	for _, sc := range loadScenarios(t) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			f := sc.setup(t)
			for i, l := range sc.lines(t) {
				f.seedScan(fmt.Sprintf("s%d", i+1), l.kind, l.local)
			}

			f.rescan(sc.Date, sc.Date, true)
			first := strip(f.anomalies())
			flags := make(map[string]model.ScanFlags)
			for id, s := range f.store.scans {
				flags[id] = s.ScanFlags
			}

			second := f.rescan(sc.Date, sc.Date, true)
			if !reflect.DeepEqual(first, strip(f.anomalies())) {
				t.Errorf("两次重扫结果不一致:\n第一次=%+v\n第二次=%+v", first, strip(f.anomalies()))
			}
			if second.ScansUpdated != 0 {
				t.Errorf("第二次重扫不应改变打卡标志，实际 scans_updated=%d", second.ScansUpdated)
			}
			for id, s := range f.store.scans {
				if !s.ScanFlags.Equal(flags[id]) {
					t.Errorf("打卡 %s 标志发生变化", id)
				}
			}
		})
	}
}
