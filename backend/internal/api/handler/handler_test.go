package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"pg-pointage/backend/internal/dto"
	"pg-pointage/backend/internal/service"
	pkgerrors "pg-pointage/backend/pkg/errors"
	"pg-pointage/backend/pkg/jwt"
	"pg-pointage/backend/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ═══════════════════════════════════════════════════════════
// Mock Services
// ═══════════════════════════════════════════════════════════

// ── Mock ScanService ──

type mockScanService struct {
	result     *dto.ScanResponse
	err        error
	employeeID string
	req        *dto.IngestScanRequest
}

func (m *mockScanService) Ingest(_ context.Context, req *dto.IngestScanRequest, employeeID string) (*dto.ScanResponse, error) {
	m.req = req
	m.employeeID = employeeID
	return m.result, m.err
}

// ── Mock RescanService ──

type mockRescanService struct {
	result *dto.RescanResponse
	err    error
	req    *dto.RescanRequest
}

func (m *mockRescanService) Rescan(_ context.Context, req *dto.RescanRequest) (*dto.RescanResponse, error) {
	m.req = req
	return m.result, m.err
}

// ── Mock AnomalyService ──

type mockAnomalyService struct {
	listResult   []dto.AnomalyResponse
	listTotal    int64
	listErr      error
	listReq      *dto.AnomalyListRequest
	getResult    *dto.AnomalyResponse
	getErr       error
	updateResult *dto.AnomalyResponse
	updateErr    error
	callerID     string
}

func (m *mockAnomalyService) List(_ context.Context, req *dto.AnomalyListRequest) ([]dto.AnomalyResponse, int64, error) {
	m.listReq = req
	return m.listResult, m.listTotal, m.listErr
}
func (m *mockAnomalyService) GetByID(_ context.Context, _ string) (*dto.AnomalyResponse, error) {
	return m.getResult, m.getErr
}
func (m *mockAnomalyService) UpdateStatus(_ context.Context, _ string, _ *dto.UpdateAnomalyStatusRequest, callerID string) (*dto.AnomalyResponse, error) {
	m.callerID = callerID
	return m.updateResult, m.updateErr
}

// ═══════════════════════════════════════════════════════════
// Test Helpers
// ═══════════════════════════════════════════════════════════

const (
	employeeUUID = "0190f5d2-6a4b-7c1e-9d3f-1a2b3c4d5e6f"
	otherUUID    = "0190f5d2-6a4b-7c1e-9d3f-aaaaaaaaaaaa"
	managerUUID  = "0190f5d2-6a4b-7c1e-9d3f-bbbbbbbbbbbb"
)

// withAuth 模拟 JWTAuth 注入的身份
func withAuth(userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("role", role)
		c.Next()
	}
}

func jsonBody(v interface{}) io.Reader {
	b, _ := json.Marshal(v)
	return bytes.NewReader(b)
}

func parseResponse(w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func serve(r *gin.Engine, method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

// ═══════════════════════════════════════════════════════════
// ScanHandler Tests
// ═══════════════════════════════════════════════════════════

func scanRouter(mock *mockScanService, userID, role string) *gin.Engine {
	r := gin.New()
	r.POST("/scans", withAuth(userID, role), NewScanHandler(mock).Ingest)
	return r
}

func TestScanHandler_Ingest_Success(t *testing.T) {
	mock := &mockScanService{result: &dto.ScanResponse{ScanID: "scan-1", Kind: "ARRIVAL"}}
	r := scanRouter(mock, employeeUUID, jwt.RoleEmployee)

	w := serve(r, "POST", "/scans", jsonBody(map[string]interface{}{"site_qr_value": "QR-SIEGE"}))

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if mock.employeeID != employeeUUID {
		t.Errorf("expected employee from token, got %s", mock.employeeID)
	}
	if resp := parseResponse(w); resp.Code != 0 {
		t.Errorf("expected code 0, got %d", resp.Code)
	}
}

func TestScanHandler_Ingest_ValidationError(t *testing.T) {
	r := scanRouter(&mockScanService{}, employeeUUID, jwt.RoleEmployee)

	tests := []map[string]interface{}{
		{},
		{"site_qr_value": "QR", "kind": "LUNCH"},
		{"site_qr_value": "QR", "source": "BLUETOOTH"},
		{"site_qr_value": "QR", "latitude": 123.0},
	}
	for i, body := range tests {
		w := serve(r, "POST", "/scans", jsonBody(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d", i, w.Code)
		}
		if resp := parseResponse(w); resp.Code != 20001 {
			t.Errorf("case %d: expected code 20001, got %d", i, resp.Code)
		}
	}
}

func TestScanHandler_Ingest_OnBehalf(t *testing.T) {
	body := map[string]interface{}{"site_qr_value": "QR-SIEGE", "employee_id": otherUUID}

	mock := &mockScanService{result: &dto.ScanResponse{}}
	w := serve(scanRouter(mock, employeeUUID, jwt.RoleEmployee), "POST", "/scans", jsonBody(body))
	if w.Code != http.StatusForbidden {
		t.Errorf("employee on behalf: expected 403, got %d", w.Code)
	}
	if mock.req != nil {
		t.Error("service should not be called")
	}

	mock = &mockScanService{result: &dto.ScanResponse{}}
	w = serve(scanRouter(mock, managerUUID, jwt.RoleManager), "POST", "/scans", jsonBody(body))
	if w.Code != http.StatusCreated {
		t.Fatalf("manager on behalf: expected 201, got %d", w.Code)
	}
	if mock.employeeID != otherUUID {
		t.Errorf("expected %s, got %s", otherUUID, mock.employeeID)
	}
}

func TestScanHandler_Ingest_Errors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   int
	}{
		{service.ErrNoSuchSite, http.StatusNotFound, 20101},
		{service.ErrNoSuchEmployee, http.StatusNotFound, 20102},
		{service.ErrDebounced, http.StatusTooManyRequests, 20103},
		{fmt.Errorf("%w: %w", service.ErrDeadlineExceeded, context.DeadlineExceeded), http.StatusGatewayTimeout, 20104},
		{errors.New("db down"), http.StatusInternalServerError, 50000},
	}
	for _, tt := range tests {
		mock := &mockScanService{err: tt.err}
		w := serve(scanRouter(mock, employeeUUID, jwt.RoleEmployee), "POST", "/scans",
			jsonBody(map[string]interface{}{"site_qr_value": "QR-SIEGE"}))
		if w.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, w.Code)
		}
		if resp := parseResponse(w); resp.Code != tt.code {
			t.Errorf("%v: expected code %d, got %d", tt.err, tt.code, resp.Code)
		}
	}
}

func TestScanHandler_Ingest_Unauthenticated(t *testing.T) {
	r := gin.New()
	r.POST("/scans", NewScanHandler(&mockScanService{}).Ingest)

	w := serve(r, "POST", "/scans", jsonBody(map[string]interface{}{"site_qr_value": "QR-SIEGE"}))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════
// AnomalyHandler Tests
// ═══════════════════════════════════════════════════════════

func anomalyRouter(a *mockAnomalyService, rs *mockRescanService, userID, role string) *gin.Engine {
	h := NewAnomalyHandler(a, rs)
	r := gin.New()
	g := r.Group("", withAuth(userID, role))
	g.POST("/anomalies/rescan", h.Rescan)
	g.GET("/anomalies", h.ListAnomalies)
	g.GET("/anomalies/:id", h.GetAnomaly)
	g.PUT("/anomalies/:id/status", h.UpdateStatus)
	return r
}

func TestAnomalyHandler_Rescan(t *testing.T) {
	rs := &mockRescanService{result: &dto.RescanResponse{StartDate: "2024-01-01", EndDate: "2024-01-31", AnomaliesCreated: 4}}
	r := anomalyRouter(&mockAnomalyService{}, rs, managerUUID, jwt.RoleManager)

	w := serve(r, "POST", "/anomalies/rescan", jsonBody(map[string]interface{}{
		"start_date": "2024-01-01", "end_date": "2024-01-31", "force_update": true,
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !rs.req.ForceUpdate || !rs.req.ShouldCheckAbsences() {
		t.Errorf("request not bound correctly: %+v", rs.req)
	}

	w = serve(r, "POST", "/anomalies/rescan", jsonBody(map[string]interface{}{"start_date": "01/01/2024"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid date: expected 400, got %d", w.Code)
	}

	rs.err = service.ErrInvalidWindow
	w = serve(r, "POST", "/anomalies/rescan", jsonBody(map[string]interface{}{}))
	if resp := parseResponse(w); w.Code != http.StatusBadRequest || resp.Code != 30104 {
		t.Errorf("invalid window: expected 400/30104, got %d/%d", w.Code, resp.Code)
	}

	rs.err = fmt.Errorf("%w: %w", service.ErrDeadlineExceeded, context.DeadlineExceeded)
	w = serve(r, "POST", "/anomalies/rescan", jsonBody(map[string]interface{}{}))
	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("deadline: expected 504, got %d", w.Code)
	}
}

func TestAnomalyHandler_ListAnomalies(t *testing.T) {
	a := &mockAnomalyService{
		listResult: []dto.AnomalyResponse{{AnomalyID: "a-1"}, {AnomalyID: "a-2"}},
		listTotal:  5,
	}

	r := anomalyRouter(a, &mockRescanService{}, managerUUID, jwt.RoleManager)
	w := serve(r, "GET", "/anomalies?page=2&page_size=2&kind=LATE&employee_id="+otherUUID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if a.listReq.EmployeeID != otherUUID || a.listReq.Kind != "LATE" {
		t.Errorf("query not bound: %+v", a.listReq)
	}

	var body struct {
		Data response.PageData `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &body)
	if body.Data.Pagination.TotalPages != 3 || body.Data.Pagination.Page != 2 {
		t.Errorf("unexpected pagination: %+v", body.Data.Pagination)
	}

	// 普通员工只能看到自己的
	r = anomalyRouter(a, &mockRescanService{}, employeeUUID, jwt.RoleEmployee)
	serve(r, "GET", "/anomalies?employee_id="+otherUUID, nil)
	if a.listReq.EmployeeID != employeeUUID {
		t.Errorf("employee filter should be forced to caller, got %s", a.listReq.EmployeeID)
	}

	w = serve(r, "GET", "/anomalies?status=ARCHIVED", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid status: expected 400, got %d", w.Code)
	}
}

func TestAnomalyHandler_GetAnomaly(t *testing.T) {
	a := &mockAnomalyService{getResult: &dto.AnomalyResponse{AnomalyID: "a-1", EmployeeID: otherUUID}}

	w := serve(anomalyRouter(a, &mockRescanService{}, managerUUID, jwt.RoleManager), "GET", "/anomalies/a-1", nil)
	if w.Code != http.StatusOK {
		t.Errorf("manager: expected 200, got %d", w.Code)
	}

	w = serve(anomalyRouter(a, &mockRescanService{}, employeeUUID, jwt.RoleEmployee), "GET", "/anomalies/a-1", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("other employee's anomaly: expected 404, got %d", w.Code)
	}

	a.getErr = service.ErrAnomalyNotFound
	w = serve(anomalyRouter(a, &mockRescanService{}, managerUUID, jwt.RoleManager), "GET", "/anomalies/missing", nil)
	if resp := parseResponse(w); w.Code != http.StatusNotFound || resp.Code != 30101 {
		t.Errorf("expected 404/30101, got %d/%d", w.Code, resp.Code)
	}
}

func TestAnomalyHandler_UpdateStatus(t *testing.T) {
	a := &mockAnomalyService{updateResult: &dto.AnomalyResponse{AnomalyID: "a-1", Status: "JUSTIFIED", Version: 2}}
	r := anomalyRouter(a, &mockRescanService{}, managerUUID, jwt.RoleManager)

	w := serve(r, "PUT", "/anomalies/a-1/status", jsonBody(map[string]interface{}{"status": "JUSTIFIED", "version": 1}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if a.callerID != managerUUID {
		t.Errorf("expected caller %s, got %s", managerUUID, a.callerID)
	}

	w = serve(r, "PUT", "/anomalies/a-1/status", jsonBody(map[string]interface{}{"status": "JUSTIFIED"}))
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing version: expected 400, got %d", w.Code)
	}

	tests := []struct {
		err    error
		status int
		code   int
	}{
		{pkgerrors.ErrOptimisticLock, http.StatusConflict, 30103},
		{service.ErrInvalidStatus, http.StatusBadRequest, 30102},
		{service.ErrAnomalyNotFound, http.StatusNotFound, 30101},
	}
	for _, tt := range tests {
		a.updateErr = tt.err
		w := serve(r, "PUT", "/anomalies/a-1/status", jsonBody(map[string]interface{}{"status": "REJECTED", "version": 1}))
		if resp := parseResponse(w); w.Code != tt.status || resp.Code != tt.code {
			t.Errorf("%v: expected %d/%d, got %d/%d", tt.err, tt.status, tt.code, w.Code, resp.Code)
		}
	}
}
