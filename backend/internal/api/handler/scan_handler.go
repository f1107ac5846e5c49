package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/service"
	"pg-pointage/backend/pkg/response"
)

// ScanHandler 打卡模块 HTTP 处理器
type ScanHandler struct {
	scanSvc service.ScanService
}

// NewScanHandler 创建 ScanHandler
func NewScanHandler(scanSvc service.ScanService) *ScanHandler {
	return &ScanHandler{scanSvc: scanSvc}
}

// Ingest 录入一次打卡
// POST /api/v1/scans
// 员工取 Token 中的 user_id；管理员与主管可通过 employee_id 代录
func (h *ScanHandler) Ingest(c *gin.Context) {
	var req dto.IngestScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 20001, "参数校验失败")
		return
	}

	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}
	role, ok := MustGetRole(c)
	if !ok {
		return
	}

	employeeID := userID
	if req.EmployeeID != "" && req.EmployeeID != userID {
		if !isSupervisor(role) {
			response.Forbidden(c, 20002, "无权为其他员工打卡")
			return
		}
		employeeID = req.EmployeeID
	}

	result, err := h.scanSvc.Ingest(c.Request.Context(), &req, employeeID)
	if err != nil {
		h.handleScanError(c, err)
		return
	}

	response.Created(c, result)
}

// handleScanError 统一处理打卡模块业务错误
func (h *ScanHandler) handleScanError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoSuchSite):
		response.NotFound(c, 20101, "站点不存在")
	case errors.Is(err, service.ErrNoSuchEmployee):
		response.NotFound(c, 20102, "员工不存在")
	case errors.Is(err, service.ErrDebounced):
		response.TooManyRequests(c, 20103, "打卡过于频繁，请稍后再试")
	case errors.Is(err, service.ErrDeadlineExceeded):
		response.GatewayTimeout(c, 20104, "处理超时，请重试")
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
