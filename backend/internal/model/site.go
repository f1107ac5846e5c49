package model

import (
	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
)

// Site 站点表，对应 sites
// 容差为站点默认值，排班上的覆盖值优先
type Site struct {
	SiteID                  string           `gorm:"type:uuid;primaryKey"                   json:"site_id"`
	Name                    string           `gorm:"type:varchar(100);not null"             json:"name"`
	QRValue                 string           `gorm:"type:varchar(100);not null;uniqueIndex" json:"qr_value"`
	Timezone                string           `gorm:"type:varchar(64);not null"              json:"timezone"`
	LateMarginMin           int              `gorm:"not null"                               json:"late_margin_min"`
	EarlyDepartureMarginMin int              `gorm:"not null"                               json:"early_departure_margin_min"`
	FrequencyTolerancePct   int              `gorm:"not null"                               json:"frequency_tolerance_pct"`
	PlausibilityStart       *clock.TimeOfDay `gorm:"type:time"                              json:"plausibility_start,omitempty"`
	PlausibilityEnd         *clock.TimeOfDay `gorm:"type:time"                              json:"plausibility_end,omitempty"`
	ConsecutiveDebounceSec  *int             `json:"consecutive_debounce_sec,omitempty"`
	IsActive                bool             `gorm:"not null"                               json:"is_active"`
	ActivationStartDate     *clock.Date      `gorm:"type:date"                              json:"activation_start_date,omitempty"`
	ActivationEndDate       *clock.Date      `gorm:"type:date"                              json:"activation_end_date,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Site) TableName() string { return "sites" }

// BeforeCreate 分配主键
func (s *Site) BeforeCreate(*gorm.DB) error {
	ensureID(&s.SiteID)
	return nil
}

// ActiveOn 站点在日期 d 是否处于启用状态（启用标志 + 启用期间，两端可开放）
func (s *Site) ActiveOn(d clock.Date) bool {
	return s.IsActive && withinActivation(d, s.ActivationStartDate, s.ActivationEndDate)
}

func withinActivation(d clock.Date, start, end *clock.Date) bool {
	if start != nil && !start.IsZero() && d.Before(*start) {
		return false
	}
	if end != nil && !end.IsZero() && d.After(*end) {
		return false
	}
	return true
}
