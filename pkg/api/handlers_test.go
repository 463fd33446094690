package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
	"github.com/polyrun/polyrun/pkg/runtime"
	"github.com/polyrun/polyrun/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubSessions struct {
	session   *models.Session
	cached    bool
	getErr    error
	createErr error
	updateErr error

	created *models.Session
	updated *models.Session
}

func (s *stubSessions) Create(_ context.Context, languageTitle string, userID *string, execContext json.RawMessage, scriptContent *string, compileOptions json.RawMessage) (*models.Session, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = models.NewSession(languageTitle, userID, execContext, scriptContent, compileOptions, time.Hour)
	return s.created, nil
}

func (s *stubSessions) GetWithSource(context.Context, string) (*models.Session, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	return s.session, s.cached, nil
}

func (s *stubSessions) Update(_ context.Context, sess *models.Session) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = sess
	return nil
}

type stubExecutor struct {
	resp      *models.ExecuteResponse
	err       error
	gotParams json.RawMessage
}

func (e *stubExecutor) Execute(_ context.Context, _ *models.Session, params json.RawMessage) (*models.ExecuteResponse, error) {
	e.gotParams = params
	if e.err != nil {
		return nil, e.err
	}
	return e.resp, nil
}

type stubSelector struct {
	err error
}

func (s *stubSelector) Select(context.Context, string) (runtime.Kind, error) {
	if s.err != nil {
		return "", s.err
	}
	return runtime.KindNodeJS, nil
}

type stubCatalog struct {
	functions []*models.Function
	function  *models.Function
	err       error
	gotQuery  models.FunctionQuery
}

func (c *stubCatalog) List(_ context.Context, q models.FunctionQuery) ([]*models.Function, error) {
	c.gotQuery = q
	return c.functions, c.err
}

func (c *stubCatalog) Get(context.Context, string) (*models.Function, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.function, nil
}

type stubTelemetry struct {
	requests []telemetry.RequestRecord
	errors   []telemetry.ErrorRecord
}

func (t *stubTelemetry) LogRequest(_ context.Context, rec telemetry.RequestRecord) error {
	t.requests = append(t.requests, rec)
	return nil
}

func (t *stubTelemetry) LogError(_ context.Context, rec telemetry.ErrorRecord) error {
	t.errors = append(t.errors, rec)
	return nil
}

type testServer struct {
	router    *gin.Engine
	sessions  *stubSessions
	executor  *stubExecutor
	selector  *stubSelector
	catalog   *stubCatalog
	telemetry *stubTelemetry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		sessions:  &stubSessions{},
		executor:  &stubExecutor{},
		selector:  &stubSelector{},
		catalog:   &stubCatalog{},
		telemetry: &stubTelemetry{},
	}
	srv := NewServer(ts.sessions, ts.executor, ts.selector, ts.catalog, ts.telemetry, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts.router = srv.Router()
	return ts
}

func (ts *testServer) do(method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBuffer(nil)
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func activeSession(languageTitle string) *models.Session {
	script := "console.log(42)"
	return models.NewSession(languageTitle, nil, json.RawMessage(`{"env":"test"}`), &script, nil, time.Hour)
}

func TestInitialize_Success(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/initialize",
		`{"context":{"env":"test"},"script_content":"console.log(42)"}`,
		map[string]string{"Language-Title": "nodejs-calculator"})

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		ExpiresAt string `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "initialized", resp.Status)
	_, err := uuid.Parse(resp.RequestID)
	assert.NoError(t, err)
	_, err = time.Parse(time.RFC3339, resp.ExpiresAt)
	assert.NoError(t, err)

	require.NotNil(t, ts.sessions.created)
	assert.Equal(t, "nodejs-calculator", ts.sessions.created.LanguageTitle)
	require.NotNil(t, ts.sessions.created.ScriptContent)
}

func TestInitialize_UserIDHeader(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/initialize", `{"context":{}}`,
		map[string]string{"Language-Title": "python-calculator", "X-User-ID": "user-1"})

	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, ts.sessions.created.UserID)
	assert.Equal(t, "user-1", *ts.sessions.created.UserID)
}

func TestInitialize_MissingHeader(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/v1/initialize", `{"context":{}}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing Language-Title header"}`, w.Body.String())
}

func TestInitialize_ScriptTooLarge(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.createErr = errs.New(errs.KindBadRequest, "Script content exceeds maximum size")

	w := ts.do(http.MethodPost, "/api/v1/initialize",
		`{"script_content":"a very long script body here"}`,
		map[string]string{"Language-Title": "nodejs-calculator"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Script content exceeds maximum size"}`, w.Body.String())
}

func TestInitialize_SelectorMiss(t *testing.T) {
	ts := newTestServer(t)
	ts.selector.err = errs.BadRequest("Unsupported language title: %s", "haskell-parser")

	w := ts.do(http.MethodPost, "/api/v1/initialize", "",
		map[string]string{"Language-Title": "haskell-parser"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Unsupported language title: haskell-parser"}`, w.Body.String())
	assert.Nil(t, ts.sessions.created)
}

func TestExecute_Success(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.session = activeSession("nodejs-calculator")
	ts.sessions.cached = true
	mem := int64(1024)
	ts.executor.resp = &models.ExecuteResponse{
		Result:           json.RawMessage(`{"output":42}`),
		ExecutionTimeMs:  100,
		MemoryUsageBytes: &mem,
	}

	requestID := ts.sessions.session.RequestID
	w := ts.do(http.MethodPost, "/api/v1/execute/"+requestID, `{"params":{"a":1}}`, nil)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result           json.RawMessage `json:"result"`
		RequestID        string          `json:"request_id"`
		ExecutionTimeMs  int64           `json:"execution_time_ms"`
		MemoryUsageBytes int64           `json:"memory_usage_bytes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.JSONEq(t, `{"output":42}`, string(resp.Result))
	assert.Equal(t, requestID, resp.RequestID)
	assert.Equal(t, int64(100), resp.ExecutionTimeMs)
	assert.Equal(t, int64(1024), resp.MemoryUsageBytes)

	assert.JSONEq(t, `{"a":1}`, string(ts.executor.gotParams))

	require.NotNil(t, ts.sessions.updated)
	assert.Equal(t, 1, ts.sessions.updated.ExecutionCount)
	assert.NotNil(t, ts.sessions.updated.LastExecutedAt)

	require.Len(t, ts.telemetry.requests, 1)
	rec := ts.telemetry.requests[0]
	assert.Equal(t, http.StatusOK, rec.StatusCode)
	assert.Equal(t, "nodejs-calculator", rec.LanguageTitle)
	assert.True(t, rec.Cached)
	assert.Empty(t, ts.telemetry.errors)
}

func TestExecute_SessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.getErr = errs.NotFound("Session not found or expired")

	w := ts.do(http.MethodPost, "/api/v1/execute/unknown-id", `{"params":{}}`, nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Session not found or expired"}`, w.Body.String())

	require.Len(t, ts.telemetry.requests, 1)
	assert.Equal(t, http.StatusNotFound, ts.telemetry.requests[0].StatusCode)
	require.Len(t, ts.telemetry.errors, 1)
	assert.Equal(t, string(errs.KindNotFound), ts.telemetry.errors[0].ErrorCode)
}

func TestExecute_WorkerFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.session = activeSession("python-calculator")
	ts.executor.err = errs.Runtime("Failed to execute function: connection refused")

	w := ts.do(http.MethodPost, "/api/v1/execute/"+ts.sessions.session.RequestID, `{"params":{}}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Failed to execute function: connection refused"}`, w.Body.String())

	// The session must not advance when the worker call failed.
	assert.Nil(t, ts.sessions.updated)

	require.Len(t, ts.telemetry.errors, 1)
	assert.Equal(t, string(errs.KindRuntime), ts.telemetry.errors[0].ErrorCode)
}

func TestExecute_SessionUpdateFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.session = activeSession("nodejs-calculator")
	ts.sessions.updateErr = errs.New(errs.KindStore, "db down")
	ts.executor.resp = &models.ExecuteResponse{Result: json.RawMessage(`"ok"`), ExecutionTimeMs: 5}

	w := ts.do(http.MethodPost, "/api/v1/execute/"+ts.sessions.session.RequestID, `{"params":{}}`, nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	require.Len(t, ts.telemetry.requests, 1)
	require.Len(t, ts.telemetry.errors, 1)
	assert.Equal(t, string(errs.KindInternal), ts.telemetry.errors[0].ErrorCode)
}

func TestExecute_EmptyBody(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.session = activeSession("nodejs-calculator")
	ts.executor.resp = &models.ExecuteResponse{Result: json.RawMessage(`"ok"`), ExecutionTimeMs: 1}

	w := ts.do(http.MethodPost, "/api/v1/execute/"+ts.sessions.session.RequestID, "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ts.executor.gotParams)
}

func TestGetSession_ProjectionOmitsScript(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.session = activeSession("rust-calculator")

	w := ts.do(http.MethodGet, "/api/v1/sessions/"+ts.sessions.session.RequestID, "", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, ts.sessions.session.RequestID, body["request_id"])
	assert.Equal(t, "rust-calculator", body["language_title"])
	assert.Equal(t, float64(0), body["execution_count"])
	assert.Equal(t, "pending", body["compile_status"])
	assert.NotContains(t, body, "script_content")
	assert.NotContains(t, body, "script_hash")
	assert.NotContains(t, body, "compiled_artifact")
}

func TestGetSession_NotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.sessions.getErr = errs.NotFound("Session not found or expired")

	w := ts.do(http.MethodGet, "/api/v1/sessions/unknown-id", "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Session not found or expired"}`, w.Body.String())
}

func TestListFunctions_Filters(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.functions = []*models.Function{
		{LanguageTitle: "python-calculator", Language: "python"},
	}

	w := ts.do(http.MethodGet, "/api/v1/functions?language=python&user_id=user-1&type=dynamic&page=2&per_page=10", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.FunctionQuery{
		Language: "python",
		UserID:   "user-1",
		Type:     "dynamic",
		Page:     2,
		PerPage:  10,
	}, ts.catalog.gotQuery)

	var body struct {
		Functions []*models.Function `json:"functions"`
		Count     int                `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestListFunctions_EmptyIsNotNull(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/functions", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"functions":[],"count":0}`, w.Body.String())
}

func TestListFunctions_InvalidPage(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/v1/functions?page=abc", "", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetFunction_NotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.catalog.err = errs.NotFound("Function %s not found", "haskell-parser")

	w := ts.do(http.MethodGet, "/api/v1/functions/haskell-parser", "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Function haskell-parser not found"}`, w.Body.String())
}

func TestHealth(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.ExpectPing()

	srv := NewServer(&stubSessions{}, &stubExecutor{}, &stubSelector{}, &stubCatalog{}, &stubTelemetry{}, db,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}
