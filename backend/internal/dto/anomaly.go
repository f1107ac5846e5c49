package dto

// ── 异常模块 DTO ──

// RescanRequest 重扫请求；日期为站点本地日期 YYYY-MM-DD
type RescanRequest struct {
	StartDate     string `json:"start_date"     binding:"omitempty,datetime=2006-01-02"`
	EndDate       string `json:"end_date"       binding:"omitempty,datetime=2006-01-02"`
	SiteID        string `json:"site_id"        binding:"omitempty,uuid"`
	EmployeeID    string `json:"employee_id"    binding:"omitempty,uuid"`
	ForceUpdate   bool   `json:"force_update"`
	CheckAbsences *bool  `json:"check_absences"` // 缺省为 true
	IgnoreErrors  bool   `json:"ignore_errors"`
}

// ShouldCheckAbsences 是否检查无打卡日
func (r *RescanRequest) ShouldCheckAbsences() bool {
	return r.CheckAbsences == nil || *r.CheckAbsences
}

// AnomalyListRequest 异常列表查询参数
type AnomalyListRequest struct {
	SiteID     string `form:"site_id"     binding:"omitempty,uuid"`
	EmployeeID string `form:"employee_id" binding:"omitempty,uuid"`
	StartDate  string `form:"start_date"  binding:"omitempty,datetime=2006-01-02"`
	EndDate    string `form:"end_date"    binding:"omitempty,datetime=2006-01-02"`
	Kind       string `form:"kind"        binding:"omitempty,oneof=LATE EARLY_DEPARTURE MISSING_ARRIVAL MISSING_DEPARTURE INSUFFICIENT_HOURS CONSECUTIVE_SAME_TYPE OUT_OF_SCHEDULE"`
	Status     string `form:"status"      binding:"omitempty,oneof=PENDING JUSTIFIED REJECTED"`
	PaginationRequest
}

// UpdateAnomalyStatusRequest 审核异常请求
type UpdateAnomalyStatusRequest struct {
	Status         string  `json:"status"          binding:"required,oneof=PENDING JUSTIFIED REJECTED"`
	CorrectionNote *string `json:"correction_note" binding:"omitempty,max=1000"`
	Version        int     `json:"version"         binding:"required,min=1"`
}

// ── 响应 ──

// RescanResponse 重扫结果
type RescanResponse struct {
	StartDate        string `json:"start_date"`
	EndDate          string `json:"end_date"`
	AnomaliesCreated int    `json:"anomalies_created"`
	ScansUpdated     int    `json:"scans_updated"`
	ScansProcessed   int    `json:"scans_processed"`
	AbsencesDetected int    `json:"absences_detected"`
	ErrorsSkipped    int    `json:"errors_skipped"`
	DurationMs       int64  `json:"duration_ms"`
}

// AnomalyResponse 异常响应
type AnomalyResponse struct {
	AnomalyID      string   `json:"anomaly_id"`
	EmployeeID     string   `json:"employee_id"`
	SiteID         string   `json:"site_id"`
	Date           string   `json:"date"`
	Kind           string   `json:"kind"`
	ScanID         *string  `json:"scan_id,omitempty"`
	ScheduleID     *string  `json:"schedule_id,omitempty"`
	Description    string   `json:"description"`
	Minutes        int      `json:"minutes"`
	Status         string   `json:"status"`
	CorrectedBy    *string  `json:"corrected_by,omitempty"`
	CorrectionNote *string  `json:"correction_note,omitempty"`
	CorrectionDate *string  `json:"correction_date,omitempty"`
	RelatedScanIDs []string `json:"related_scan_ids"`
	Version        int      `json:"version"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}
