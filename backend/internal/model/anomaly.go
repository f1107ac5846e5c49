package model

import (
	"time"

	"gorm.io/gorm"

	"pg-pointage/backend/internal/clock"
)

// 异常类型
const (
	AnomalyLate                = "LATE"
	AnomalyEarlyDeparture      = "EARLY_DEPARTURE"
	AnomalyMissingArrival      = "MISSING_ARRIVAL"
	AnomalyMissingDeparture    = "MISSING_DEPARTURE"
	AnomalyInsufficientHours   = "INSUFFICIENT_HOURS"
	AnomalyConsecutiveSameType = "CONSECUTIVE_SAME_TYPE"
	AnomalyOutOfSchedule       = "OUT_OF_SCHEDULE"
)

// 审核状态
const (
	AnomalyStatusPending   = "PENDING"
	AnomalyStatusJustified = "JUSTIFIED"
	AnomalyStatusRejected  = "REJECTED"
)

// Anomaly 异常，对应 anomalies
// (employee_id, site_id, date, kind, trigger_key) 唯一；
// trigger_key 对单次打卡类异常为触发打卡 ID，对日级异常为空串
type Anomaly struct {
	AnomalyID      string     `gorm:"type:uuid;primaryKey"                                     json:"anomaly_id"`
	EmployeeID     string     `gorm:"type:uuid;not null;uniqueIndex:idx_anomaly_key,priority:1" json:"employee_id"`
	SiteID         string     `gorm:"type:uuid;not null;uniqueIndex:idx_anomaly_key,priority:2" json:"site_id"`
	Date           clock.Date `gorm:"type:date;not null;uniqueIndex:idx_anomaly_key,priority:3" json:"date"`
	Kind           string     `gorm:"type:varchar(30);not null;uniqueIndex:idx_anomaly_key,priority:4" json:"kind"`
	TriggerKey     string     `gorm:"type:varchar(36);not null;uniqueIndex:idx_anomaly_key,priority:5" json:"-"`
	ScanID         *string    `gorm:"type:uuid"                                                json:"scan_id,omitempty"`
	ScheduleID     *string    `gorm:"type:uuid"                                                json:"schedule_id,omitempty"`
	Description    string     `gorm:"type:text;not null"                                       json:"description"`
	Minutes        int        `gorm:"not null"                                                 json:"minutes"`
	Status         string     `gorm:"type:varchar(20);not null"                                json:"status"` // PENDING | JUSTIFIED | REJECTED
	CorrectedBy    *string    `gorm:"type:uuid"                                                json:"corrected_by,omitempty"`
	CorrectionNote *string    `gorm:"type:text"                                                json:"correction_note,omitempty"`
	CorrectionDate *time.Time `json:"correction_date,omitempty"`
	VersionedModel

	// 关联打卡 ID 集合，经 anomaly_scans 维护
	RelatedScanIDs []string `gorm:"-" json:"related_scan_ids"`
}

// TableName 指定表名
func (Anomaly) TableName() string { return "anomalies" }

// BeforeCreate 分配主键与默认状态
func (a *Anomaly) BeforeCreate(*gorm.DB) error {
	ensureID(&a.AnomalyID)
	if a.Status == "" {
		a.Status = AnomalyStatusPending
	}
	return nil
}

// AnomalyKey 异常唯一键
type AnomalyKey struct {
	EmployeeID string
	SiteID     string
	Date       clock.Date
	Kind       string
	TriggerKey string
}

// Key 返回异常的唯一键
func (a *Anomaly) Key() AnomalyKey {
	return AnomalyKey{
		EmployeeID: a.EmployeeID,
		SiteID:     a.SiteID,
		Date:       a.Date,
		Kind:       a.Kind,
		TriggerKey: a.TriggerKey,
	}
}

// AnomalyScan 异常与关联打卡的多对多连接表，对应 anomaly_scans
type AnomalyScan struct {
	AnomalyID string `gorm:"type:uuid;primaryKey"`
	ScanID    string `gorm:"type:uuid;primaryKey;index"`
}

// TableName 指定表名
func (AnomalyScan) TableName() string { return "anomaly_scans" }

// AllModels 返回需要建表的全部模型（sqlite AutoMigrate 使用）
func AllModels() []interface{} {
	return []interface{}{
		&Site{}, &Schedule{}, &ScheduleDay{}, &Employee{}, &Assignment{},
		&Scan{}, &Anomaly{}, &AnomalyScan{},
	}
}
