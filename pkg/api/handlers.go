package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
	"github.com/polyrun/polyrun/pkg/telemetry"
)

type initializeRequest struct {
	Context        json.RawMessage `json:"context"`
	ScriptContent  *string         `json:"script_content"`
	CompileOptions json.RawMessage `json:"compile_options"`
}

type executeRequest struct {
	Params json.RawMessage `json:"params"`
}

// sessionProjection is the session view returned over HTTP: no script
// body, hash, or compiled artifact.
type sessionProjection struct {
	RequestID      string          `json:"request_id"`
	LanguageTitle  string          `json:"language_title"`
	UserID         *string         `json:"user_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	LastExecutedAt *time.Time      `json:"last_executed_at,omitempty"`
	ExecutionCount int             `json:"execution_count"`
	Status         models.Status   `json:"status"`
	Context        json.RawMessage `json:"context,omitempty"`
	CompileStatus  *string         `json:"compile_status,omitempty"`
	CompileError   *string         `json:"compile_error,omitempty"`
}

// Initialize handles POST /api/v1/initialize.
func (s *Server) Initialize(c *gin.Context) {
	languageTitle := c.GetHeader("Language-Title")
	if languageTitle == "" {
		respondError(c, errs.BadRequest("Missing Language-Title header"))
		return
	}

	// Reject titles no strategy can route before persisting anything.
	if _, err := s.selector.Select(c.Request.Context(), languageTitle); err != nil {
		respondError(c, err)
		return
	}

	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, errs.BadRequest("invalid request body: %v", err))
		return
	}

	var userID *string
	if v := c.GetHeader("X-User-ID"); v != "" {
		userID = &v
	}

	sess, err := s.sessions.Create(c.Request.Context(), languageTitle, userID, req.Context, req.ScriptContent, req.CompileOptions)
	if err != nil {
		respondError(c, err)
		return
	}

	s.logger.Info("session initialized",
		"request_id", sess.RequestID,
		"language_title", sess.LanguageTitle,
	)

	c.JSON(http.StatusOK, gin.H{
		"request_id": sess.RequestID,
		"status":     "initialized",
		"expires_at": sess.ExpiresAt.Format(time.RFC3339),
	})
}

// Execute handles POST /api/v1/execute/:request_id.
func (s *Server) Execute(c *gin.Context) {
	requestID := c.Param("request_id")

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, errs.BadRequest("invalid request body: %v", err))
		return
	}

	// A dropped client connection must not abandon an in-flight worker
	// call; the session update and telemetry still have to land.
	ctx := context.WithoutCancel(c.Request.Context())
	start := time.Now()
	rec := executionRecord{
		requestID:     requestID,
		languageTitle: "unknown",
		clientIP:      c.ClientIP(),
		params:        req.Params,
		start:         start,
	}

	sess, cached, err := s.sessions.GetWithSource(ctx, requestID)
	if err != nil {
		rec.err = err
		s.recordExecution(ctx, rec)
		respondError(c, err)
		return
	}
	rec.languageTitle = sess.LanguageTitle
	rec.userID = sess.UserID
	rec.cached = cached

	resp, err := s.executor.Execute(ctx, sess, req.Params)
	if err == nil {
		sess.UpdateAfterExecution()
		if updateErr := s.sessions.Update(ctx, sess); updateErr != nil {
			err = errs.Wrap(errs.KindInternal, updateErr, "failed to update session after execution")
		}
	}
	if err != nil {
		// A compile failure is a session state change; persist it so
		// later executes reject without dispatching.
		if errs.IsKind(err, errs.KindCompilation) {
			if updateErr := s.sessions.Update(ctx, sess); updateErr != nil {
				s.logger.Warn("failed to persist compile failure", "request_id", requestID, "error", updateErr)
			}
		}
		rec.err = err
		s.recordExecution(ctx, rec)
		respondError(c, err)
		return
	}

	body := gin.H{
		"result":            resp.Result,
		"request_id":        requestID,
		"execution_time_ms": resp.ExecutionTimeMs,
	}
	if resp.MemoryUsageBytes != nil {
		body["memory_usage_bytes"] = *resp.MemoryUsageBytes
	}
	if resp.Degraded {
		body["degraded"] = true
	}

	rec.response, _ = json.Marshal(body)
	rec.metrics, _ = json.Marshal(gin.H{
		"execution_time_ms":  resp.ExecutionTimeMs,
		"memory_usage_bytes": resp.MemoryUsageBytes,
	})
	s.recordExecution(ctx, rec)

	c.JSON(http.StatusOK, body)
}

// executionRecord collects what one execute attempt knew by the time it
// terminated, successfully or not.
type executionRecord struct {
	requestID     string
	languageTitle string
	userID        *string
	clientIP      string
	cached        bool
	params        json.RawMessage
	response      json.RawMessage
	metrics       json.RawMessage
	start         time.Time
	err           error
}

// recordExecution writes exactly one request-log row per terminating
// execute, plus an error row on failure. Telemetry is best-effort; the
// sink logs its own failures.
func (s *Server) recordExecution(ctx context.Context, rec executionRecord) {
	status := http.StatusOK
	if rec.err != nil {
		status = errs.HTTPStatus(rec.err)
	}

	reqRec := telemetry.RequestRecord{
		RequestID:       rec.requestID,
		LanguageTitle:   rec.languageTitle,
		ClientIP:        &rec.clientIP,
		UserID:          rec.userID,
		RequestPayload:  rec.params,
		ResponsePayload: rec.response,
		StatusCode:      status,
		DurationMs:      int(time.Since(rec.start).Milliseconds()),
		Cached:          rec.cached,
		RuntimeMetrics:  rec.metrics,
	}
	if rec.err != nil {
		reqRec.ErrorDetails, _ = json.Marshal(gin.H{"error": rec.err.Error()})
	}
	_ = s.telemetry.LogRequest(ctx, reqRec)

	if rec.err != nil {
		_ = s.telemetry.LogError(ctx, telemetry.ErrorRecord{
			RequestLogID: rec.requestID,
			ErrorCode:    string(errs.KindOf(rec.err)),
			ErrorMessage: rec.err.Error(),
		})
	}
}

// GetSession handles GET /api/v1/sessions/:request_id.
func (s *Server) GetSession(c *gin.Context) {
	sess, _, err := s.sessions.GetWithSource(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionProjection{
		RequestID:      sess.RequestID,
		LanguageTitle:  sess.LanguageTitle,
		UserID:         sess.UserID,
		CreatedAt:      sess.CreatedAt,
		ExpiresAt:      sess.ExpiresAt,
		LastExecutedAt: sess.LastExecutedAt,
		ExecutionCount: sess.ExecutionCount,
		Status:         sess.Status,
		Context:        sess.Context,
		CompileStatus:  sess.CompileStatus,
		CompileError:   sess.CompileError,
	})
}

// ListFunctions handles GET /api/v1/functions.
func (s *Server) ListFunctions(c *gin.Context) {
	q := models.FunctionQuery{
		Language: c.Query("language"),
		UserID:   c.Query("user_id"),
		Type:     c.Query("type"),
	}

	var err error
	if q.Page, err = intQuery(c, "page"); err != nil {
		respondError(c, err)
		return
	}
	if q.PerPage, err = intQuery(c, "per_page"); err != nil {
		respondError(c, err)
		return
	}

	functions, err := s.catalog.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if functions == nil {
		functions = []*models.Function{}
	}

	c.JSON(http.StatusOK, gin.H{
		"functions": functions,
		"count":     len(functions),
	})
}

// GetFunction handles GET /api/v1/functions/:language_title.
func (s *Server) GetFunction(c *gin.Context) {
	f, err := s.catalog.Get(c.Request.Context(), c.Param("language_title"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, f)
}

func intQuery(c *gin.Context, name string) (int, error) {
	val := c.Query(name)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, errs.BadRequest("invalid %s: %q", name, val)
	}
	return n, nil
}
