package engine

import (
	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// Gate 分类前的站点/绑定闸门结果
type Gate int

const (
	GateOpen             Gate = iota
	GateSiteInactive          // 站点未启用
	GateNotLinked             // 员工未绑定站点
	GateNoActiveSchedule      // 有绑定但没有任何启用的排班
	GateNoScheduleForDay      // 当天无排班日明细
)

// ScanInput 单次打卡分类的输入
type ScanInput struct {
	Scan       *model.Scan
	Site       *model.Site
	Local      clock.Local
	Gate       Gate
	Candidates []Candidate
	Policy     Policy
}

// Classification 单次打卡分类结果
type Classification struct {
	Flags     model.ScanFlags
	Matches   []Candidate
	Effective *Candidate
	Window    *Window
	Anomalies []Draft
}

// Classify 对单次打卡做闸门判断、时段匹配、歧义裁决与越界判定
// 输出只取决于打卡本身与传入的排班，重复调用结果一致
func Classify(in ScanInput) Classification {
	var out Classification
	scan := in.Scan

	// 1. 站点与绑定闸门
	if in.Gate != GateOpen {
		out.Flags.IsOutOfSchedule = true
		out.Anomalies = append(out.Anomalies,
			scanDraft(model.AnomalyOutOfSchedule, scan, nil, gateDescription(in.Gate, in.Local), 0))
		return out
	}

	// 2-3. 合理区间 + 时段匹配
	// 合理区间只在候选全部为固定排班时生效
	skipFixed := !in.Policy.Plausible(in.Local.Time) && allFixed(in.Candidates)
	windows := make(map[string]windowMatch)
	for _, c := range in.Candidates {
		if !c.Fixed() {
			out.Matches = append(out.Matches, c)
			continue
		}
		if skipFixed {
			continue
		}
		if wm, ok := matchWindow(scan.Kind, in.Local.Time, c.Day); ok {
			out.Matches = append(out.Matches, c)
			windows[c.Schedule.ScheduleID] = wm
		}
	}

	// 5. 无任何匹配
	if len(out.Matches) == 0 {
		out.Flags.IsOutOfSchedule = true
		var scheduleID *string
		if eff, ok := Pick(in.Candidates, in.Policy.TieBreaker); ok {
			scheduleID = eff.ScheduleID()
		}
		desc := Describe(TplOutNoWindow, in.Local.Time, KindLabel(scan.Kind), rangesLabel(in.Candidates))
		out.Anomalies = append(out.Anomalies, scanDraft(model.AnomalyOutOfSchedule, scan, scheduleID, desc, 0))
		return out
	}

	// 4. 歧义裁决：仅生效排班决定标志与异常
	out.Flags.IsAmbiguous = len(out.Matches) > 1
	eff, _ := Pick(out.Matches, in.Policy.TieBreaker)
	out.Effective = &eff
	out.Flags.MatchedScheduleID = eff.ScheduleID()

	if !eff.Fixed() {
		// 频次排班的时长不足属于日级判断
		return out
	}

	wm := windows[eff.Schedule.ScheduleID]
	out.Window = &wm.Window

	switch scan.Kind {
	case model.ScanKindArrival:
		if wm.Minutes > LateMargin(in.Site, eff.Schedule) {
			out.Flags.IsLate = true
			out.Flags.LateMinutes = wm.Minutes
			out.Anomalies = append(out.Anomalies, scanDraft(model.AnomalyLate, scan, eff.ScheduleID(),
				Describe(TplLate, wm.Minutes), wm.Minutes))
		}
	case model.ScanKindDeparture:
		if wm.Minutes > EarlyDepartureMargin(in.Site, eff.Schedule) {
			out.Flags.IsEarlyDeparture = true
			out.Flags.EarlyDepartureMinutes = wm.Minutes
			out.Anomalies = append(out.Anomalies, scanDraft(model.AnomalyEarlyDeparture, scan, eff.ScheduleID(),
				Describe(TplEarlyDeparture, wm.Minutes), wm.Minutes))
		}
	}

	return out
}

func allFixed(cs []Candidate) bool {
	for _, c := range cs {
		if !c.Fixed() {
			return false
		}
	}
	return true
}

func gateDescription(g Gate, local clock.Local) string {
	switch g {
	case GateSiteInactive:
		return Describe(TplOutInactiveSite)
	case GateNotLinked:
		return Describe(TplOutNotLinked)
	case GateNoActiveSchedule:
		return Describe(TplOutNoActiveSchedule)
	default:
		return Describe(TplOutNoScheduleForDay, WeekdayName(local.Weekday))
	}
}
