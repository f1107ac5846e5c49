package model

import (
	"time"

	"gorm.io/gorm"
)

// 打卡类型
const (
	ScanKindArrival   = "ARRIVAL"
	ScanKindDeparture = "DEPARTURE"
)

// 打卡来源
const (
	ScanSourceQRCode = "QR_CODE"
	ScanSourceNFC    = "NFC"
)

// Scan 打卡记录，对应 scans
// 派生标志由引擎写入，其余字段归录入路径所有
type Scan struct {
	ScanID     string    `gorm:"type:uuid;primaryKey"                            json:"scan_id"`
	EmployeeID string    `gorm:"type:uuid;not null;index:idx_scan_owner_ts,priority:1" json:"employee_id"`
	SiteID     string    `gorm:"type:uuid;not null;index:idx_scan_owner_ts,priority:2" json:"site_id"`
	Timestamp  time.Time `gorm:"not null;index:idx_scan_owner_ts,priority:3;index"     json:"timestamp"`
	Kind       string    `gorm:"type:varchar(20);not null"                       json:"kind"`   // ARRIVAL | DEPARTURE
	Source     string    `gorm:"type:varchar(20);not null"                       json:"source"` // QR_CODE | NFC
	Latitude   *float64  `json:"latitude,omitempty"`
	Longitude  *float64  `json:"longitude,omitempty"`
	ScanFlags
	CreatedOffline bool       `gorm:"not null" json:"created_offline"`
	SyncedAt       *time.Time `json:"synced_at,omitempty"`
	BaseModel
}

// TableName 指定表名
func (Scan) TableName() string { return "scans" }

// BeforeCreate 分配主键
func (s *Scan) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ScanID)
	return nil
}

// ScanFlags 打卡的派生标志，仅由打卡本身与匹配时的排班决定
type ScanFlags struct {
	IsLate                bool    `gorm:"not null" json:"is_late"`
	LateMinutes           int     `gorm:"not null" json:"late_minutes"`
	IsEarlyDeparture      bool    `gorm:"not null" json:"is_early_departure"`
	EarlyDepartureMinutes int     `gorm:"not null" json:"early_departure_minutes"`
	IsOutOfSchedule       bool    `gorm:"not null" json:"is_out_of_schedule"`
	IsAmbiguous           bool    `gorm:"not null" json:"is_ambiguous"`
	MatchedScheduleID     *string `gorm:"type:uuid" json:"matched_schedule_id,omitempty"`
}

// Equal 按值比较（MatchedScheduleID 比较指向的值）
func (f ScanFlags) Equal(o ScanFlags) bool {
	if f.IsLate != o.IsLate || f.LateMinutes != o.LateMinutes ||
		f.IsEarlyDeparture != o.IsEarlyDeparture || f.EarlyDepartureMinutes != o.EarlyDepartureMinutes ||
		f.IsOutOfSchedule != o.IsOutOfSchedule || f.IsAmbiguous != o.IsAmbiguous {
		return false
	}
	switch {
	case f.MatchedScheduleID == nil && o.MatchedScheduleID == nil:
		return true
	case f.MatchedScheduleID == nil || o.MatchedScheduleID == nil:
		return false
	}
	return *f.MatchedScheduleID == *o.MatchedScheduleID
}

// Columns 返回用于批量更新的列映射（含零值）
func (f ScanFlags) Columns() map[string]interface{} {
	return map[string]interface{}{
		"is_late":                 f.IsLate,
		"late_minutes":            f.LateMinutes,
		"is_early_departure":      f.IsEarlyDeparture,
		"early_departure_minutes": f.EarlyDepartureMinutes,
		"is_out_of_schedule":      f.IsOutOfSchedule,
		"is_ambiguous":            f.IsAmbiguous,
		"matched_schedule_id":     f.MatchedScheduleID,
	}
}
