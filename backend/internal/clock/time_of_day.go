package clock

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TimeOfDay 一天中的时刻（自零点起的秒数）
type TimeOfDay int

// NewTimeOfDay 由时、分构造
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(hour*3600 + minute*60)
}

// ParseTimeOfDay 解析 HH:MM 或 HH:MM:SS（忽略小数秒）
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, _ := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if n < 2 {
		return 0, fmt.Errorf("无效时刻 %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("无效时刻 %q", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// MustTimeOfDay ParseTimeOfDay 的 panic 版本，仅用于常量与测试
func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Hour 小时
func (t TimeOfDay) Hour() int { return int(t) / 3600 }

// Minute 分钟
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }

// String 格式化为 HH:MM
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Clock 格式化为 HH:MM:SS
func (t TimeOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour(), t.Minute(), int(t)%60)
}

// Sub 返回 t - o
func (t TimeOfDay) Sub(o TimeOfDay) time.Duration {
	return time.Duration(int(t)-int(o)) * time.Second
}

// MinutesSince 返回 t - o 的整分钟数（向下取整，负值截断为 0）
func (t TimeOfDay) MinutesSince(o TimeOfDay) int {
	if t <= o {
		return 0
	}
	return (int(t) - int(o)) / 60
}

// On 组合日期与时刻得到 loc 下的瞬间
func (t TimeOfDay) On(d Date, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, t.Hour(), t.Minute(), int(t)%60, 0, loc)
}

// MarshalText 实现 encoding.TextMarshaler
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Value 实现 driver.Valuer
func (t TimeOfDay) Value() (driver.Value, error) {
	return t.Clock(), nil
}

// Scan 实现 sql.Scanner；兼容 postgres time 的文本与 time.Time 表示
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOfDay(v.Hour()*3600 + v.Minute()*60 + v.Second())
		return nil
	case string:
		return t.UnmarshalText([]byte(v))
	case []byte:
		return t.UnmarshalText(v)
	default:
		return fmt.Errorf("TimeOfDay.Scan: unsupported type %T", src)
	}
}
