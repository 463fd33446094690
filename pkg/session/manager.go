// Package session manages execution session lifecycle: the store is the
// source of truth, the cache is a read-through mirror keyed by request id.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/polyrun/polyrun/pkg/cache"
	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
)

const cacheKeyPrefix = "session:"

// Manager owns session persistence and caching.
type Manager struct {
	db            *sql.DB
	cache         cache.Cache
	expiry        time.Duration
	cacheTTL      time.Duration
	maxScriptSize int
	logger        *slog.Logger
}

func NewManager(db *sql.DB, c cache.Cache, expiry, cacheTTL time.Duration, maxScriptSize int, logger *slog.Logger) *Manager {
	return &Manager{
		db:            db,
		cache:         c,
		expiry:        expiry,
		cacheTTL:      cacheTTL,
		maxScriptSize: maxScriptSize,
		logger:        logger,
	}
}

// Create validates the script size, inserts a new session, and mirrors it
// into the cache. A cache write failure does not fail the create.
func (m *Manager) Create(ctx context.Context, languageTitle string, userID *string, execContext json.RawMessage, scriptContent *string, compileOptions json.RawMessage) (*models.Session, error) {
	if scriptContent != nil && len(*scriptContent) > m.maxScriptSize {
		return nil, errs.New(errs.KindBadRequest, "Script content exceeds maximum size")
	}

	s := models.NewSession(languageTitle, userID, execContext, scriptContent, compileOptions, m.expiry)

	const query = `
		INSERT INTO meta.sessions (
			request_id, language_title, user_id, created_at, expires_at,
			status, context, script_content, compile_options
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := m.db.ExecContext(ctx, query,
		s.RequestID,
		s.LanguageTitle,
		s.UserID,
		s.CreatedAt,
		s.ExpiresAt,
		string(s.Status),
		nullableJSON(s.Context),
		s.ScriptContent,
		nullableJSON(s.CompileOptions),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindStore, err, "failed to create session")
	}

	m.mirror(ctx, s)
	return s, nil
}

// Get returns a reachable session, cache-first.
func (m *Manager) Get(ctx context.Context, requestID string) (*models.Session, error) {
	s, _, err := m.GetWithSource(ctx, requestID)
	return s, err
}

// GetWithSource is Get plus a flag reporting whether the session came
// from the cache. A cached session that is no longer reachable is
// evicted and the store is consulted; the store query itself filters
// unreachable rows.
func (m *Manager) GetWithSource(ctx context.Context, requestID string) (*models.Session, bool, error) {
	key := cacheKeyPrefix + requestID

	var cached models.Session
	found, err := m.cache.Get(ctx, key, &cached)
	if err != nil {
		m.logger.Warn("cache lookup failed, falling back to store", "request_id", requestID, "error", err)
	} else if found {
		if cached.Reachable() {
			return &cached, true, nil
		}
		if err := m.cache.Delete(ctx, key); err != nil {
			m.logger.Warn("failed to evict stale session", "request_id", requestID, "error", err)
		}
	}

	const query = `
		SELECT
			request_id, language_title, user_id, created_at, expires_at,
			last_executed_at, execution_count, status, context,
			script_content, script_hash, compiled_artifact, compile_options,
			compile_status, compile_error, metadata
		FROM meta.sessions
		WHERE request_id = $1 AND expires_at > NOW() AND status = 'active'`

	s, err := scanSession(m.db.QueryRowContext(ctx, query, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, errs.NotFound("Session not found or expired")
	}
	if err != nil {
		return nil, false, errs.Wrap(errs.KindStore, err, "failed to get session %s", requestID)
	}

	m.mirror(ctx, s)
	return s, false, nil
}

// Update persists mutable session fields and refreshes the cache mirror.
// The store trigger stamps last_executed_at when execution_count grows,
// so the row's timestamp is authoritative.
func (m *Manager) Update(ctx context.Context, s *models.Session) error {
	const query = `
		UPDATE meta.sessions
		SET
			last_executed_at = $1,
			execution_count = $2,
			status = $3,
			compiled_artifact = $4,
			compile_status = $5,
			compile_error = $6,
			metadata = $7
		WHERE request_id = $8`

	_, err := m.db.ExecContext(ctx, query,
		s.LastExecutedAt,
		s.ExecutionCount,
		string(s.Status),
		s.CompiledArtifact,
		s.CompileStatus,
		s.CompileError,
		nullableJSON(s.Metadata),
		s.RequestID,
	)
	if err != nil {
		return errs.Wrap(errs.KindStore, err, "failed to update session %s", s.RequestID)
	}

	m.mirror(ctx, s)
	return nil
}

// Expire marks a session expired and drops its cache entry. Expiring an
// already-expired or missing session is a no-op.
func (m *Manager) Expire(ctx context.Context, requestID string) error {
	const query = `UPDATE meta.sessions SET status = 'expired' WHERE request_id = $1`

	if _, err := m.db.ExecContext(ctx, query, requestID); err != nil {
		return errs.Wrap(errs.KindStore, err, "failed to expire session %s", requestID)
	}

	if err := m.cache.Delete(ctx, cacheKeyPrefix+requestID); err != nil {
		m.logger.Warn("failed to evict expired session", "request_id", requestID, "error", err)
	}
	return nil
}

// CleanupExpired invokes the server-side cleanup function and returns the
// number of removed sessions.
func (m *Manager) CleanupExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := m.db.QueryRowContext(ctx, `SELECT meta.cleanup_expired_sessions()`).Scan(&removed)
	if err != nil {
		return 0, errs.Wrap(errs.KindStore, err, "failed to clean up expired sessions")
	}
	return removed, nil
}

func (m *Manager) mirror(ctx context.Context, s *models.Session) {
	if err := m.cache.SetEx(ctx, cacheKeyPrefix+s.RequestID, s, m.cacheTTL); err != nil {
		m.logger.Warn("failed to cache session", "request_id", s.RequestID, "error", err)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s              models.Session
		userID         sql.NullString
		lastExecutedAt sql.NullTime
		status         string
		execContext    []byte
		scriptContent  sql.NullString
		scriptHash     sql.NullString
		compileOptions []byte
		compileStatus  sql.NullString
		compileError   sql.NullString
		metadata       []byte
	)

	err := row.Scan(
		&s.RequestID,
		&s.LanguageTitle,
		&userID,
		&s.CreatedAt,
		&s.ExpiresAt,
		&lastExecutedAt,
		&s.ExecutionCount,
		&status,
		&execContext,
		&scriptContent,
		&scriptHash,
		&s.CompiledArtifact,
		&compileOptions,
		&compileStatus,
		&compileError,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	s.Status = models.Status(status)
	s.Context = json.RawMessage(execContext)
	s.CompileOptions = json.RawMessage(compileOptions)
	s.Metadata = json.RawMessage(metadata)
	if userID.Valid {
		s.UserID = &userID.String
	}
	if lastExecutedAt.Valid {
		t := lastExecutedAt.Time
		s.LastExecutedAt = &t
	}
	if scriptContent.Valid {
		s.ScriptContent = &scriptContent.String
	}
	if scriptHash.Valid {
		s.ScriptHash = &scriptHash.String
	}
	if compileStatus.Valid {
		s.CompileStatus = &compileStatus.String
	}
	if compileError.Valid {
		s.CompileError = &compileError.String
	}

	return &s, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
