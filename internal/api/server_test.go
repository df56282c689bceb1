package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/internal/auth"
	"gomarketplace_sync/internal/catalog/app"
	"gomarketplace_sync/internal/catalog/guard"
	"gomarketplace_sync/internal/catalog/reconcile"
	"gomarketplace_sync/pkg/logger"
)

const secret = "api-secret"

type fakeRunner struct {
	report    json.RawMessage
	auditErr  error
	repairArg []bool
	syncs     int
}

func (f *fakeRunner) RunSync(context.Context) (app.SyncOutcome, error) {
	f.syncs++
	return app.SyncOutcome{RunID: "run-1", Status: app.StatusNoChanges}, nil
}

func (f *fakeRunner) RunAudit(_ context.Context, repair bool) (reconcile.Audit, error) {
	f.repairArg = append(f.repairArg, repair)
	return reconcile.Audit{RunID: "audit-1", RemoteCount: 3}, f.auditErr
}

func (f *fakeRunner) LastReport(context.Context) (json.RawMessage, time.Time, error) {
	return f.report, time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC), nil
}

func (f *fakeRunner) LastAudit(context.Context) (json.RawMessage, time.Time, error) {
	return nil, time.Time{}, nil
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.IssueToken(secret, "tester", role, time.Minute)
	require.NoError(t, err)
	return "Bearer " + tok
}

func do(t *testing.T, h http.Handler, method, path, authz string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOpenEndpoints(t *testing.T) {
	h := NewServer(&fakeRunner{}, secret, logger.Discard()).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLastReport(t *testing.T) {
	runner := &fakeRunner{report: json.RawMessage(`{"runId":"r-9"}`)}
	h := NewServer(runner, secret, logger.Discard()).Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/report/last", "").Code)

	rec := do(t, h, http.MethodGet, "/api/report/last", token(t, auth.RoleViewer))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runId":"r-9"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Last-Modified"))

	rec = do(t, h, http.MethodGet, "/api/audit/last", token(t, auth.RoleViewer))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditNeedsOperator(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, secret, logger.Discard()).Handler()

	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodPost, "/api/audit", token(t, auth.RoleViewer)).Code)
	assert.Empty(t, runner.repairArg)

	rec := do(t, h, http.MethodPost, "/api/audit", token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, rec.Code)
	var audit reconcile.Audit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	assert.Equal(t, "audit-1", audit.RunID)

	do(t, h, http.MethodPost, "/api/audit?repair=true", token(t, auth.RoleOperator))
	assert.Equal(t, []bool{false, true}, runner.repairArg)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/audit?repair=maybe", token(t, auth.RoleOperator)).Code)
}

func TestRunErrorsMapToStatus(t *testing.T) {
	runner := &fakeRunner{auditErr: &guard.TripError{Bucket: guard.Bucket{Name: "orphaned", Count: 9}, Max: 2}}
	h := NewServer(runner, secret, logger.Discard()).Handler()
	rec := do(t, h, http.MethodPost, "/api/audit?repair=1", token(t, auth.RoleOperator))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "safety guard tripped")

	runner.auditErr = app.ErrRunInProgress
	rec = do(t, h, http.MethodPost, "/api/audit", token(t, auth.RoleOperator))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSyncEndpoint(t *testing.T) {
	runner := &fakeRunner{}
	h := NewServer(runner, secret, logger.Discard()).Handler()

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/sync", token(t, auth.RoleOperator)).Code)

	rec := do(t, h, http.MethodPost, "/api/sync", token(t, auth.RoleOperator))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.syncs)
	assert.Contains(t, rec.Body.String(), `"status":"no-changes"`)
}
