// Package telemetry records request and error telemetry rows. Writes are
// best-effort: the caller treats failures as non-fatal.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/polyrun/polyrun/pkg/errs"
)

// RequestRecord is one row of request telemetry.
type RequestRecord struct {
	RequestID       string
	LanguageTitle   string
	ClientIP        *string
	UserID          *string
	RequestHeaders  json.RawMessage
	RequestPayload  json.RawMessage
	ResponsePayload json.RawMessage
	StatusCode      int
	DurationMs      int
	Cached          bool
	ErrorDetails    json.RawMessage
	RuntimeMetrics  json.RawMessage
}

// ErrorRecord is one row of error telemetry, keyed by the request it
// belongs to.
type ErrorRecord struct {
	RequestLogID string
	ErrorCode    string
	ErrorMessage string
	StackTrace   *string
	Context      json.RawMessage
}

// DatabaseLogger persists telemetry to request_logs and error_logs.
// When disabled, all methods are no-ops.
type DatabaseLogger struct {
	db      *sql.DB
	enabled bool
	logger  *slog.Logger
}

func NewDatabaseLogger(db *sql.DB, enabled bool, logger *slog.Logger) *DatabaseLogger {
	return &DatabaseLogger{db: db, enabled: enabled, logger: logger}
}

// Enabled reports whether telemetry writes are active.
func (l *DatabaseLogger) Enabled() bool {
	return l.enabled
}

// LogRequest inserts one request telemetry row.
func (l *DatabaseLogger) LogRequest(ctx context.Context, rec RequestRecord) error {
	if !l.enabled {
		return nil
	}

	const query = `
		INSERT INTO public.request_logs (
			request_id, language_title, client_ip, user_id,
			request_headers, request_payload, response_payload,
			status_code, duration_ms, cached, error_details, runtime_metrics
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)`

	_, err := l.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.LanguageTitle,
		rec.ClientIP,
		rec.UserID,
		nullableJSON(rec.RequestHeaders),
		nullableJSON(rec.RequestPayload),
		nullableJSON(rec.ResponsePayload),
		rec.StatusCode,
		rec.DurationMs,
		rec.Cached,
		nullableJSON(rec.ErrorDetails),
		nullableJSON(rec.RuntimeMetrics),
	)
	if err != nil {
		l.logger.Error("failed to log request", "request_id", rec.RequestID, "error", err)
		return errs.Wrap(errs.KindStore, err, "failed to log request %s", rec.RequestID)
	}

	l.logger.Debug("logged request", "request_id", rec.RequestID, "status_code", rec.StatusCode)
	return nil
}

// LogError inserts one error telemetry row.
func (l *DatabaseLogger) LogError(ctx context.Context, rec ErrorRecord) error {
	if !l.enabled {
		return nil
	}

	const query = `
		INSERT INTO public.error_logs (
			request_log_id, error_code, error_message, stack_trace, context
		) VALUES (
			$1, $2, $3, $4, $5
		)`

	_, err := l.db.ExecContext(ctx, query,
		rec.RequestLogID,
		rec.ErrorCode,
		rec.ErrorMessage,
		rec.StackTrace,
		nullableJSON(rec.Context),
	)
	if err != nil {
		l.logger.Error("failed to log error", "request_log_id", rec.RequestLogID, "error", err)
		return errs.Wrap(errs.KindStore, err, "failed to log error for request %s", rec.RequestLogID)
	}

	return nil
}

// nullableJSON maps an empty raw message to SQL NULL so JSONB columns
// never receive the empty string.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
