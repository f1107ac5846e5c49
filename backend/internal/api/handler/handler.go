package handler

import "pg-pointage/backend/internal/service"

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Scan    *ScanHandler
	Anomaly *AnomalyHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	return &Handler{
		Scan:    NewScanHandler(svc.Scan),
		Anomaly: NewAnomalyHandler(svc.Anomaly, svc.Rescan),
	}
}
