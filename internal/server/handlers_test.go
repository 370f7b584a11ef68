package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/approval"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/config"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/erp"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/notification"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/repository"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/internal/risk"
	"github.com/Arun-S-1505/ASAP-Agentic-System-for-Automated-Procurement/pkg/database"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator := database.NewMigrator(db, logger)
	require.NoError(t, migrator.Run("../../migrations"))

	decisionRepo := repository.NewDecisionRepository(db.DB, logger)
	requisitionRepo := repository.NewRequisitionRepository(db.DB, logger)
	notificationRepo := repository.NewNotificationRepository(db.DB, logger)

	factory := erp.NewFactory(erp.SAPConfig{}, requisitionRepo, logger)
	connectors, err := erp.NewManager(factory, erp.ModeMock, logger)
	require.NoError(t, err)

	notifier := notification.NewNotifier(notificationRepo, nil, logger)
	orch := approval.NewOrchestrator(
		approval.Config{GracePeriod: 5 * time.Minute, AutoCommitEnabled: true},
		db, decisionRepo, risk.NewEngine(), connectors, notifier, logger,
	)

	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, orch, connectors, notificationRepo, logger)
}

func doRequest(t *testing.T, srv *Server, method, path string, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "healthy", data["status"])
	assert.Equal(t, "mock", data["erp_mode"])
}

func TestDetectThenListAndUndo(t *testing.T) {
	srv := newTestServer(t)

	// Seeds the simulated ERP on first connect and stages all five
	// sample requisitions
	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/detect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(5), data["staged"])

	rec, resp = doRequest(t, srv, http.MethodGet, "/api/v1/decisions?state=pending_commit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decisions := resp.Data.([]any)
	require.Len(t, decisions, 5)

	first := decisions[0].(map[string]any)
	erpRef := first["erp_requisition_id"].(string)

	rec, resp = doRequest(t, srv, http.MethodPost, "/api/v1/undo/"+erpRef, "")
	require.Equal(t, http.StatusOK, rec.Code)
	undone := resp.Data.(map[string]any)
	assert.Equal(t, "cancelled", undone["state"])
	assert.Contains(t, undone["comment"], "[Cancelled by user]")

	// The cancelled row is terminal, so a second undo finds nothing
	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/undo/"+erpRef, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUndoUnknownRequisitionReturns404(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/undo/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestListDecisionsRejectsUnknownState(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/decisions?state=wat", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "unknown lifecycle state")
}

func TestApproveEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, resp := doRequest(t, srv, http.MethodPost, "/api/v1/detect", "")
	decisions := resp.Data.(map[string]any)["decisions"].([]any)
	require.NotEmpty(t, decisions)
	erpRef := decisions[0].(map[string]any)["erp_requisition_id"].(string)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/approve/"+erpRef, `{"comment":"checked"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	approved := resp.Data.(map[string]any)
	assert.Equal(t, "committed", approved["state"])
	assert.Equal(t, "manual_approve", approved["outcome"])
	assert.Contains(t, approved["comment"], "| Approved: checked")
	assert.NotNil(t, approved["committed_at"])
}

func TestBatchApproveEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, resp := doRequest(t, srv, http.MethodPost, "/api/v1/detect", "")
	decisions := resp.Data.(map[string]any)["decisions"].([]any)
	require.Len(t, decisions, 5)

	refA := decisions[0].(map[string]any)["erp_requisition_id"].(string)
	refB := decisions[1].(map[string]any)["erp_requisition_id"].(string)

	body := `{"ids":["` + refA + `","` + refB + `","PR-MISSING"],"comment":"quarter-end sweep"}`
	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/batch/approve", body)
	require.Equal(t, http.StatusOK, rec.Code)

	batch := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), batch["processed"])
	assert.Equal(t, float64(1), batch["failed"])

	results := batch["results"].([]any)
	require.Len(t, results, 3)
	last := results[2].(map[string]any)
	assert.False(t, last["success"].(bool))
	assert.Equal(t, "No pending decision found", last["message"])

	rec, resp = doRequest(t, srv, http.MethodGet, "/api/v1/decisions?state=committed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]any), 2)

	// An already-approved row is terminal, so a rerun finds nothing
	rec, resp = doRequest(t, srv, http.MethodPost, "/api/v1/batch/reject", `{"ids":["`+refA+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	batch = resp.Data.(map[string]any)
	assert.Equal(t, float64(1), batch["failed"])
}

func TestBatchApproveRejectsEmptyList(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/batch/approve", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "ids list cannot be empty")
}

func TestSwitchAdapterValidation(t *testing.T) {
	srv := newTestServer(t)

	rec, resp := doRequest(t, srv, http.MethodPost, "/api/v1/switch-adapter", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, resp.Error, "mode query parameter is required")

	rec, _ = doRequest(t, srv, http.MethodPost, "/api/v1/switch-adapter?mode=oracle", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNotificationsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, resp := doRequest(t, srv, http.MethodPost, "/api/v1/detect", "")
	decisions := resp.Data.(map[string]any)["decisions"].([]any)
	require.NotEmpty(t, decisions)
	erpRef := decisions[0].(map[string]any)["erp_requisition_id"].(string)

	// Staging alone notifies nothing
	rec, resp := doRequest(t, srv, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, resp.Data)

	doRequest(t, srv, http.MethodPost, "/api/v1/approve/"+erpRef, "")

	rec, resp = doRequest(t, srv, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	logs := resp.Data.([]any)
	assert.Len(t, logs, 2, "email and slack rows per committed decision")
}
