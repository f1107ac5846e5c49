package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/service"
	pkgerrors "pg-pointage/backend/pkg/errors"
	"pg-pointage/backend/pkg/response"
)

// AnomalyHandler 异常模块 HTTP 处理器（查询、审核、重扫）
type AnomalyHandler struct {
	anomalySvc service.AnomalyService
	rescanSvc  service.RescanService
}

// NewAnomalyHandler 创建 AnomalyHandler
func NewAnomalyHandler(anomalySvc service.AnomalyService, rescanSvc service.RescanService) *AnomalyHandler {
	return &AnomalyHandler{anomalySvc: anomalySvc, rescanSvc: rescanSvc}
}

// Rescan 批量重扫
// POST /api/v1/anomalies/rescan
func (h *AnomalyHandler) Rescan(c *gin.Context) {
	var req dto.RescanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 30001, "参数校验失败")
		return
	}

	result, err := h.rescanSvc.Rescan(c.Request.Context(), &req)
	if err != nil {
		h.handleAnomalyError(c, err)
		return
	}

	response.OK(c, result)
}

// ListAnomalies 获取异常列表
// GET /api/v1/anomalies
// 普通员工只能查看自己的异常
func (h *AnomalyHandler) ListAnomalies(c *gin.Context) {
	var req dto.AnomalyListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, 30001, "参数校验失败")
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
	if !isSupervisor(role) {
		req.EmployeeID = userID
	}

	list, total, err := h.anomalySvc.List(c.Request.Context(), &req)
	if err != nil {
		h.handleAnomalyError(c, err)
		return
	}

	response.OKPage(c, list, total, req.GetPage(), req.GetPageSize())
}

// GetAnomaly 获取异常详情
// GET /api/v1/anomalies/:id
func (h *AnomalyHandler) GetAnomaly(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 30001, "异常ID不能为空")
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

	anomaly, err := h.anomalySvc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleAnomalyError(c, err)
		return
	}
	if !isSupervisor(role) && anomaly.EmployeeID != userID {
		response.NotFound(c, 30101, "异常记录不存在")
		return
	}

	response.OK(c, anomaly)
}

// UpdateStatus 审核异常
// PUT /api/v1/anomalies/:id/status
func (h *AnomalyHandler) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.BadRequest(c, 30001, "异常ID不能为空")
		return
	}

	var req dto.UpdateAnomalyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 30001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	anomaly, err := h.anomalySvc.UpdateStatus(c.Request.Context(), id, &req, callerID)
	if err != nil {
		h.handleAnomalyError(c, err)
		return
	}

	response.OK(c, anomaly)
}

// handleAnomalyError 统一处理异常模块业务错误
func (h *AnomalyHandler) handleAnomalyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAnomalyNotFound):
		response.NotFound(c, 30101, "异常记录不存在")
	case errors.Is(err, service.ErrInvalidStatus):
		response.BadRequest(c, 30102, "无效的审核状态")
	case errors.Is(err, pkgerrors.ErrOptimisticLock):
		response.Conflict(c, 30103, "记录已被他人修改，请刷新后重试")
	case errors.Is(err, service.ErrInvalidWindow):
		response.BadRequest(c, 30104, "日期区间无效")
	case errors.Is(err, service.ErrDeadlineExceeded):
		response.GatewayTimeout(c, 30105, "重扫超时，已回滚")
	default:
		_ = c.Error(err)
		response.InternalError(c)
	}
}
