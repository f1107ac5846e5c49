package model

import (
	"fmt"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
)

// 排班类型
const (
	ScheduleKindFixed     = "FIXED"
	ScheduleKindFrequency = "FREQUENCY"
)

// 固定排班的日类型
const (
	DayTypeFull = "FULL"
	DayTypeAM   = "AM"
	DayTypePM   = "PM"
)

// Schedule 排班表，对应 schedules（引擎只读）
type Schedule struct {
	ScheduleID              string      `gorm:"type:uuid;primaryKey"      json:"schedule_id"`
	SiteID                  string      `gorm:"type:uuid;not null;index"  json:"site_id"`
	Name                    string      `gorm:"type:varchar(100)"         json:"name,omitempty"`
	Kind                    string      `gorm:"type:varchar(20);not null" json:"kind"` // FIXED | FREQUENCY
	IsActive                bool        `gorm:"not null"                  json:"is_active"`
	LateMarginMin           *int        `json:"late_margin_min,omitempty"`
	EarlyDepartureMarginMin *int        `json:"early_departure_margin_min,omitempty"`
	FrequencyTolerancePct   *int        `json:"frequency_tolerance_pct,omitempty"`
	ActivationStartDate     *clock.Date `gorm:"type:date"                 json:"activation_start_date,omitempty"`
	ActivationEndDate       *clock.Date `gorm:"type:date"                 json:"activation_end_date,omitempty"`
	BaseModel

	// 关联
	Days []ScheduleDay `gorm:"foreignKey:ScheduleID" json:"days,omitempty"`
}

// TableName 指定表名
func (Schedule) TableName() string { return "schedules" }

// BeforeCreate 分配主键
func (s *Schedule) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ScheduleID)
	return nil
}

// ActiveOn 排班在日期 d 是否生效
func (s *Schedule) ActiveOn(d clock.Date) bool {
	return s.IsActive && withinActivation(d, s.ActivationStartDate, s.ActivationEndDate)
}

// ScheduleDay 排班日明细，对应 schedule_days，(schedule_id, day_of_week) 唯一
type ScheduleDay struct {
	ScheduleDayID        string           `gorm:"type:uuid;primaryKey"                                  json:"schedule_day_id"`
	ScheduleID           string           `gorm:"type:uuid;not null;uniqueIndex:idx_schedule_day_week"   json:"schedule_id"`
	DayOfWeek            int              `gorm:"type:smallint;not null;uniqueIndex:idx_schedule_day_week" json:"day_of_week"` // 0 = 周一
	DayType              string           `gorm:"type:varchar(10)"                                      json:"day_type,omitempty"`
	Start1               *clock.TimeOfDay `gorm:"type:time"                                             json:"start1,omitempty"`
	End1                 *clock.TimeOfDay `gorm:"type:time"                                             json:"end1,omitempty"`
	Start2               *clock.TimeOfDay `gorm:"type:time"                                             json:"start2,omitempty"`
	End2                 *clock.TimeOfDay `gorm:"type:time"                                             json:"end2,omitempty"`
	FrequencyDurationMin *int             `json:"frequency_duration_min,omitempty"`
	BaseModel
}

// TableName 指定表名
func (ScheduleDay) TableName() string { return "schedule_days" }

// BeforeCreate 分配主键
func (d *ScheduleDay) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ScheduleDayID)
	return nil
}

// Validate 校验日明细与排班类型的约束
func (d *ScheduleDay) Validate(kind string) error {
	if d.DayOfWeek < 0 || d.DayOfWeek > 6 {
		return fmt.Errorf("day_of_week 超出范围: %d", d.DayOfWeek)
	}
	switch kind {
	case ScheduleKindFixed:
		w1 := d.Start1 != nil && d.End1 != nil
		w2 := d.Start2 != nil && d.End2 != nil
		switch d.DayType {
		case DayTypeFull:
			if !w1 || !w2 {
				return fmt.Errorf("FULL 需要两个时段")
			}
		case DayTypeAM:
			if !w1 {
				return fmt.Errorf("AM 需要时段 1")
			}
		case DayTypePM:
			if !w2 {
				return fmt.Errorf("PM 需要时段 2")
			}
		default:
			return fmt.Errorf("未知日类型 %q", d.DayType)
		}
		if w1 && *d.Start1 >= *d.End1 {
			return fmt.Errorf("时段 1 起点必须早于终点")
		}
		if w2 && *d.Start2 >= *d.End2 {
			return fmt.Errorf("时段 2 起点必须早于终点")
		}
	case ScheduleKindFrequency:
		if d.FrequencyDurationMin == nil || *d.FrequencyDurationMin < 1 || *d.FrequencyDurationMin > 1440 {
			return fmt.Errorf("frequency_duration_min 必须在 1..1440 之间")
		}
	default:
		return fmt.Errorf("未知排班类型 %q", kind)
	}
	return nil
}
