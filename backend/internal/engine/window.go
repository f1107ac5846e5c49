package engine

import (
	"fmt"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// Window 固定排班的一个时段 [Start, End]
type Window struct {
	Index int // 1 | 2
	Start clock.TimeOfDay
	End   clock.TimeOfDay
}

// Contains 闭区间包含判断
func (w Window) Contains(t clock.TimeOfDay) bool {
	return t >= w.Start && t <= w.End
}

// String 形如 08:00-12:00
func (w Window) String() string {
	return fmt.Sprintf("%s-%s", w.Start, w.End)
}

// Windows 按日类型返回生效时段：FULL 两段，AM 仅时段 1，PM 仅时段 2
func Windows(day *model.ScheduleDay) []Window {
	var out []Window
	use1, use2 := true, true
	switch day.DayType {
	case model.DayTypeAM:
		use2 = false
	case model.DayTypePM:
		use1 = false
	}
	if use1 && day.Start1 != nil && day.End1 != nil {
		out = append(out, Window{Index: 1, Start: *day.Start1, End: *day.End1})
	}
	if use2 && day.Start2 != nil && day.End2 != nil {
		out = append(out, Window{Index: 2, Start: *day.Start2, End: *day.End2})
	}
	return out
}

// FirstStart 当日第一个时段的起点
func FirstStart(day *model.ScheduleDay) (clock.TimeOfDay, bool) {
	ws := Windows(day)
	if len(ws) == 0 {
		return 0, false
	}
	return ws[0].Start, true
}

// LastEnd 当日最后一个时段的终点
func LastEnd(day *model.ScheduleDay) (clock.TimeOfDay, bool) {
	ws := Windows(day)
	if len(ws) == 0 {
		return 0, false
	}
	end := ws[0].End
	for _, w := range ws[1:] {
		if w.End > end {
			end = w.End
		}
	}
	return end, true
}

// windowMatch 一次命中的时段与偏差分钟数
type windowMatch struct {
	Window  Window
	Minutes int
}

// matchWindow 在日明细的时段中为打卡选择时段
// 到岗：选迟到分钟最少者；离岗：选终点最近者。相同时取序号较小的时段。
func matchWindow(kind string, t clock.TimeOfDay, day *model.ScheduleDay) (windowMatch, bool) {
	var best windowMatch
	found := false
	for _, w := range Windows(day) {
		if !w.Contains(t) {
			continue
		}
		var m int
		if kind == model.ScanKindArrival {
			m = t.MinutesSince(w.Start)
		} else {
			m = w.End.MinutesSince(t)
		}
		if !found || deviation(kind, t, w) < deviation(kind, t, best.Window) {
			best = windowMatch{Window: w, Minutes: m}
			found = true
		}
	}
	return best, found
}

// deviation 秒级偏差，用于在多个命中时段间比较
func deviation(kind string, t clock.TimeOfDay, w Window) int {
	if kind == model.ScanKindArrival {
		return int(t) - int(w.Start)
	}
	return int(w.End) - int(t)
}

// ExpectedScans 当日预期最大打卡次数与班型描述
func ExpectedScans(c Candidate) (int, string) {
	if !c.Fixed() {
		return 2, ShapeFrequency
	}
	switch c.Day.DayType {
	case model.DayTypeAM:
		return 2, ShapeMorning
	case model.DayTypePM:
		return 2, ShapeAfternoon
	default:
		return 4, ShapeFullDay
	}
}

// ExpectedDuration 频次排班当日预期分钟数
func ExpectedDuration(day *model.ScheduleDay) int {
	if day.FrequencyDurationMin == nil {
		return 0
	}
	return *day.FrequencyDurationMin
}

// MinimumAccepted 在容差下可接受的最少分钟数：floor(expected × (1 − pct/100))
func MinimumAccepted(expected, pct int) int {
	return expected * (100 - pct) / 100
}

// DayClosed 判断日期 d 在当前本地时间 now 下是否已结束
// 固定排班：最后一个时段结束后即视为结束；频次排班：须到次日。
func DayClosed(c Candidate, d clock.Date, now clock.Local) bool {
	if d.Before(now.Date) {
		return true
	}
	if d.After(now.Date) || !c.Fixed() {
		return false
	}
	end, ok := LastEnd(c.Day)
	return ok && now.Time > end
}
