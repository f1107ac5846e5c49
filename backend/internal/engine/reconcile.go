package engine

import (
	"strings"
	"time"

	"pg-pointage/backend/internal/clock"
	"pg-pointage/backend/internal/model"
)

// DayInput 日终对账输入：某 (员工, 站点, 本地日期) 的全部打卡与适用排班
type DayInput struct {
	Site       *model.Site
	Date       clock.Date
	Scans      []*model.Scan // 按 (timestamp, scan_id) 升序
	Candidates []Candidate
	Policy     Policy
	Now        clock.Local // 站点时区下的当前时间，用于判断当天是否已结束
}

// DayResult 日终对账结果
type DayResult struct {
	Drafts     []Draft
	Effective  *Candidate
	Closed     bool
	Cumulative int // 频次排班累计在岗分钟
}

// Reconcile 汇总一天的打卡，产出连续同类、超额打卡、缺卡与时长不足异常
func Reconcile(in DayInput) DayResult {
	var res DayResult

	res.Drafts = append(res.Drafts, consecutive(in)...)

	eff, ok := Pick(in.Candidates, in.Policy.TieBreaker)
	if !ok {
		return res
	}
	res.Effective = &eff
	res.Closed = DayClosed(eff, in.Date, in.Now)

	if d, ok := excess(in, eff); ok {
		res.Drafts = append(res.Drafts, d)
	}

	if eff.Fixed() {
		res.Drafts = append(res.Drafts, fixedMissing(in, eff, res.Closed)...)
		return res
	}

	drafts, cumulative := frequency(in, eff, res.Closed)
	res.Drafts = append(res.Drafts, drafts...)
	res.Cumulative = cumulative
	return res
}

// consecutive 相邻同类打卡且间隔超过去抖阈值时报异常；阈值内视为重复触碰
func consecutive(in DayInput) []Draft {
	var out []Draft
	for i := 1; i < len(in.Scans); i++ {
		prev, cur := in.Scans[i-1], in.Scans[i]
		if prev.Kind != cur.Kind {
			continue
		}
		if cur.Timestamp.Sub(prev.Timestamp) <= in.Policy.ConsecutiveDebounce {
			continue
		}
		local := clock.ToLocal(cur.Timestamp, in.Policy.Location)
		id := cur.ScanID
		out = append(out, Draft{
			Kind:           model.AnomalyConsecutiveSameType,
			TriggerKey:     id,
			ScanID:         &id,
			Description:    Describe(TplConsecutive, strings.ToLower(KindLabel(cur.Kind)), local.Time),
			RelatedScanIDs: []string{prev.ScanID, id},
		})
	}
	return out
}

// excess 打卡次数超过班型上限时，每天仅一条“Scan multiple”
func excess(in DayInput, eff Candidate) (Draft, bool) {
	limit, shape := ExpectedScans(eff)
	if len(in.Scans) <= limit {
		return Draft{}, false
	}
	last := in.Scans[len(in.Scans)-1].ScanID
	return Draft{
		Kind:           model.AnomalyConsecutiveSameType,
		ScanID:         &last,
		ScheduleID:     eff.ScheduleID(),
		Description:    Describe(TplExcessScans, shape),
		RelatedScanIDs: scanIDs(in.Scans),
	}, true
}

// rapidPair 是否存在相邻间隔小于阈值的打卡（疑似录入时类型判断错误）
func rapidPair(scans []*model.Scan, guard time.Duration) bool {
	for i := 1; i < len(scans); i++ {
		if scans[i].Timestamp.Sub(scans[i-1].Timestamp) < guard {
			return true
		}
	}
	return false
}

func split(scans []*model.Scan) (arrivals, departures []*model.Scan) {
	for _, s := range scans {
		if s.Kind == model.ScanKindArrival {
			arrivals = append(arrivals, s)
		} else {
			departures = append(departures, s)
		}
	}
	return arrivals, departures
}

func fixedMissing(in DayInput, eff Candidate, closed bool) []Draft {
	start, _ := FirstStart(eff.Day)
	end, _ := LastEnd(eff.Day)

	if len(in.Scans) == 0 {
		if !closed {
			return nil
		}
		return []Draft{{
			Kind:        model.AnomalyMissingArrival,
			ScheduleID:  eff.ScheduleID(),
			Description: Describe(TplMissingArrival, start),
		}}
	}
	if rapidPair(in.Scans, in.Policy.RapidPairGuard) {
		return nil
	}

	var out []Draft
	arrivals, departures := split(in.Scans)
	if len(arrivals) == 0 {
		out = append(out, Draft{
			Kind:           model.AnomalyMissingArrival,
			ScanID:         strPtr(departures[0].ScanID),
			ScheduleID:     eff.ScheduleID(),
			Description:    Describe(TplMissingArrival, start),
			RelatedScanIDs: scanIDs(in.Scans),
		})
	}
	if len(departures) == 0 && closed {
		out = append(out, Draft{
			Kind:           model.AnomalyMissingDeparture,
			ScanID:         strPtr(arrivals[len(arrivals)-1].ScanID),
			ScheduleID:     eff.ScheduleID(),
			Description:    Describe(TplMissingDeparture, end),
			RelatedScanIDs: scanIDs(in.Scans),
		})
	}
	return out
}

func frequency(in DayInput, eff Candidate, closed bool) ([]Draft, int) {
	expected := ExpectedDuration(eff.Day)

	if len(in.Scans) == 0 {
		if !closed {
			return nil, 0
		}
		return []Draft{{
			Kind:        model.AnomalyMissingArrival,
			ScheduleID:  eff.ScheduleID(),
			Description: Describe(TplMissingArrivalFrequency, expected),
		}}, 0
	}

	cumulative, contributing := PairedMinutes(in.Scans)
	if !closed {
		return nil, cumulative
	}

	arrivals, departures := split(in.Scans)
	if len(departures) == 0 {
		if rapidPair(in.Scans, in.Policy.RapidPairGuard) {
			return nil, cumulative
		}
		return []Draft{{
			Kind:           model.AnomalyMissingDeparture,
			ScanID:         strPtr(arrivals[len(arrivals)-1].ScanID),
			ScheduleID:     eff.ScheduleID(),
			Description:    Describe(TplMissingDepartureFrequency, expected),
			RelatedScanIDs: scanIDs(in.Scans),
		}}, cumulative
	}

	pct := TolerancePct(in.Site, eff.Schedule)
	minimum := MinimumAccepted(expected, pct)
	if cumulative >= minimum {
		return nil, cumulative
	}
	return []Draft{{
		Kind:           model.AnomalyInsufficientHours,
		ScanID:         strPtr(departures[len(departures)-1].ScanID),
		ScheduleID:     eff.ScheduleID(),
		Description:    Describe(TplInsufficientDuration, cumulative, minimum, pct),
		Minutes:        expected - cumulative,
		RelatedScanIDs: scanIDs(contributing),
	}}, cumulative
}

// PairedMinutes 严格按顺序配对相邻的 (到岗, 离岗) 累计在岗分钟
// 未配对的打卡不计入；返回参与配对的打卡
func PairedMinutes(scans []*model.Scan) (int, []*model.Scan) {
	var total time.Duration
	var contributing []*model.Scan
	for i := 0; i+1 < len(scans); i++ {
		a, d := scans[i], scans[i+1]
		if a.Kind != model.ScanKindArrival || d.Kind != model.ScanKindDeparture || !a.Timestamp.Before(d.Timestamp) {
			continue
		}
		total += d.Timestamp.Sub(a.Timestamp)
		contributing = append(contributing, a, d)
		i++
	}
	return int(total / time.Minute), contributing
}
