package dto

import "time"

// ── 打卡录入 DTO ──

// IngestScanRequest 打卡录入请求
// employee_id 仅管理员/主管代录时可填，普通员工取自 Token
type IngestScanRequest struct {
	EmployeeID     string     `json:"employee_id"     binding:"omitempty,uuid"`
	SiteQRValue    string     `json:"site_qr_value"   binding:"required,max=100"`
	Timestamp      *time.Time `json:"timestamp"`
	Kind           string     `json:"kind"            binding:"omitempty,oneof=ARRIVAL DEPARTURE"`
	Source         string     `json:"source"          binding:"omitempty,oneof=QR_CODE NFC"`
	Latitude       *float64   `json:"latitude"        binding:"omitempty,min=-90,max=90"`
	Longitude      *float64   `json:"longitude"       binding:"omitempty,min=-180,max=180"`
	CreatedOffline bool       `json:"created_offline"`
}

// ── 响应 ──

// ScanResponse 打卡响应（含分类标志与当天最新异常）
type ScanResponse struct {
	ScanID                string            `json:"scan_id"`
	EmployeeID            string            `json:"employee_id"`
	SiteID                string            `json:"site_id"`
	Timestamp             string            `json:"timestamp"`
	LocalDate             string            `json:"local_date"`
	Kind                  string            `json:"kind"`
	Source                string            `json:"source"`
	IsLate                bool              `json:"is_late"`
	LateMinutes           int               `json:"late_minutes"`
	IsEarlyDeparture      bool              `json:"is_early_departure"`
	EarlyDepartureMinutes int               `json:"early_departure_minutes"`
	IsOutOfSchedule       bool              `json:"is_out_of_schedule"`
	IsAmbiguous           bool              `json:"is_ambiguous"`
	MatchedScheduleID     *string           `json:"matched_schedule_id,omitempty"`
	CreatedOffline        bool              `json:"created_offline"`
	AnomaliesCreated      int               `json:"anomalies_created"`
	Anomalies             []AnomalyResponse `json:"anomalies"`
}
