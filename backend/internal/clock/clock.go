// Package clock 提供权威的“当前时间”以及站点本地民用时间的换算。
// 所有与排班时间的比较都在站点时区的 (日期, 时刻) 上进行，夏令时切换因此无需特殊处理。
package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata" // 容器镜像可能不带系统时区库
)

// Clock 时间源
type Clock interface {
	Now() time.Time
}

// Real 系统时钟
type Real struct{}

// Now 返回当前 UTC 时间
func (Real) Now() time.Time { return time.Now().UTC() }

// Fixed 可控时钟，用于测试与批处理回放
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixed 创建固定在 t 的时钟
func NewFixed(t time.Time) *Fixed { return &Fixed{t: t.UTC()} }

// Now 返回当前设定的时间
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Set 重设时间
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t.UTC()
	f.mu.Unlock()
}

// Advance 向前拨动时钟
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// ── 时区缓存 ──

var locations sync.Map // name → *time.Location

// LoadLocation 带缓存的 time.LoadLocation
func LoadLocation(name string) (*time.Location, error) {
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("加载时区 %q 失败: %w", name, err)
	}
	locations.Store(name, loc)
	return loc, nil
}

// Local 某一瞬间在站点时区下的民用投影
type Local struct {
	Date    Date
	Time    TimeOfDay
	Weekday int // 0 = 周一，6 = 周日
}

// ToLocal 将瞬间 t 投影到时区 loc 的 (日期, 时刻, 星期)
func ToLocal(t time.Time, loc *time.Location) Local {
	lt := t.In(loc)
	d := DateOf(lt)
	return Local{
		Date:    d,
		Time:    TimeOfDay(lt.Hour()*3600 + lt.Minute()*60 + lt.Second()),
		Weekday: d.Weekday(),
	}
}

// DayBounds 返回日期 d 在 loc 下的 [起点, 次日起点) UTC 区间
func DayBounds(d Date, loc *time.Location) (time.Time, time.Time) {
	return d.In(loc).UTC(), d.AddDays(1).In(loc).UTC()
}

// RangeBounds 返回 [from, to] 两个民用日期在 loc 下覆盖的 UTC 区间
func RangeBounds(from, to Date, loc *time.Location) (time.Time, time.Time) {
	return from.In(loc).UTC(), to.AddDays(1).In(loc).UTC()
}

// Today 时钟 c 在 loc 下的当前日期
func Today(c Clock, loc *time.Location) Date {
	return DateOf(c.Now().In(loc))
}
