// Package api exposes the controller's HTTP surface.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polyrun/polyrun/pkg/database"
	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
	"github.com/polyrun/polyrun/pkg/runtime"
	"github.com/polyrun/polyrun/pkg/telemetry"
)

const healthCheckTimeout = 5 * time.Second

// SessionService is the session lifecycle surface the handlers need.
// Satisfied by session.Manager.
type SessionService interface {
	Create(ctx context.Context, languageTitle string, userID *string, execContext json.RawMessage, scriptContent *string, compileOptions json.RawMessage) (*models.Session, error)
	GetWithSource(ctx context.Context, requestID string) (*models.Session, bool, error)
	Update(ctx context.Context, s *models.Session) error
}

// Executor dispatches a session execution to a worker runtime.
// Satisfied by runtime.Manager.
type Executor interface {
	Execute(ctx context.Context, s *models.Session, params json.RawMessage) (*models.ExecuteResponse, error)
}

// RuntimeSelector validates that a language title maps to a runtime.
// Satisfied by runtime.Selector.
type RuntimeSelector interface {
	Select(ctx context.Context, languageTitle string) (runtime.Kind, error)
}

// FunctionCatalog serves catalog reads. Satisfied by catalog.Manager.
type FunctionCatalog interface {
	List(ctx context.Context, q models.FunctionQuery) ([]*models.Function, error)
	Get(ctx context.Context, languageTitle string) (*models.Function, error)
}

// TelemetrySink records request and error telemetry. Satisfied by
// telemetry.DatabaseLogger.
type TelemetrySink interface {
	LogRequest(ctx context.Context, rec telemetry.RequestRecord) error
	LogError(ctx context.Context, rec telemetry.ErrorRecord) error
}

// Server wires the HTTP handlers to the controller services.
type Server struct {
	sessions  SessionService
	executor  Executor
	selector  RuntimeSelector
	catalog   FunctionCatalog
	telemetry TelemetrySink
	db        *sql.DB
	logger    *slog.Logger

	httpServer *http.Server
}

func NewServer(sessions SessionService, executor Executor, selector RuntimeSelector, catalog FunctionCatalog, tel TelemetrySink, db *sql.DB, logger *slog.Logger) *Server {
	return &Server{
		sessions:  sessions,
		executor:  executor,
		selector:  selector,
		catalog:   catalog,
		telemetry: tel,
		db:        db,
		logger:    logger,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/health", s.Health)

	v1 := r.Group("/api/v1")
	v1.POST("/initialize", s.Initialize)
	v1.POST("/execute/:request_id", s.Execute)
	v1.GET("/sessions/:request_id", s.GetSession)
	v1.GET("/functions", s.ListFunctions)
	v1.GET("/functions/:language_title", s.GetFunction)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// Health handles GET /health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// respondError writes the uniform {"error": reason} envelope with the
// status mapped from the error kind.
func respondError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}
