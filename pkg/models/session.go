// Package models holds the controller's domain types.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/polyrun/polyrun/pkg/errs"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Compile status values. Transitions form a DAG: pending may move to
// success or error, nothing else moves.
const (
	CompilePending = "pending"
	CompileSuccess = "success"
	CompileError   = "error"
)

// Session binds a script and caller identity across invocations.
// The store maintains script_hash and advances execution_count via
// triggers; the struct mirrors those columns for reads.
type Session struct {
	RequestID        string          `json:"request_id"`
	LanguageTitle    string          `json:"language_title"`
	UserID           *string         `json:"user_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
	LastExecutedAt   *time.Time      `json:"last_executed_at,omitempty"`
	ExecutionCount   int             `json:"execution_count"`
	Status           Status          `json:"status"`
	Context          json.RawMessage `json:"context"`
	ScriptContent    *string         `json:"script_content,omitempty"`
	ScriptHash       *string         `json:"script_hash,omitempty"`
	CompiledArtifact []byte          `json:"compiled_artifact,omitempty"`
	CompileOptions   json.RawMessage `json:"compile_options,omitempty"`
	CompileStatus    *string         `json:"compile_status,omitempty"`
	CompileError     *string         `json:"compile_error,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// NewSession constructs an active session with a fresh UUIDv4 request id.
// The script hash is computed client-side for the returned value; the
// store trigger recomputes it authoritatively on insert.
func NewSession(languageTitle string, userID *string, context json.RawMessage, scriptContent *string, compileOptions json.RawMessage, expiry time.Duration) *Session {
	now := time.Now().UTC()

	s := &Session{
		RequestID:      uuid.NewString(),
		LanguageTitle:  languageTitle,
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(expiry),
		ExecutionCount: 0,
		Status:         StatusActive,
		Context:        context,
		ScriptContent:  scriptContent,
		CompileOptions: compileOptions,
	}

	if scriptContent != nil {
		hash := HashScript(*scriptContent)
		s.ScriptHash = &hash
		pending := CompilePending
		s.CompileStatus = &pending
	}

	return s
}

// HashScript returns the hex SHA-256 of the script content, matching the
// store's calculate_script_hash trigger.
func HashScript(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// IsExpired reports whether the session's expiry has passed.
func (s *Session) IsExpired() bool {
	return s.ExpiresAt.Before(time.Now())
}

// Reachable reports whether the session may be fetched or executed.
func (s *Session) Reachable() bool {
	return !s.IsExpired() && s.Status == StatusActive
}

// UpdateAfterExecution records a successful execute.
func (s *Session) UpdateAfterExecution() {
	now := time.Now().UTC()
	s.LastExecutedAt = &now
	s.ExecutionCount++
}

// MarkCompileSuccess transitions compile status pending -> success.
func (s *Session) MarkCompileSuccess(artifact []byte) error {
	if s.CompileStatus == nil || *s.CompileStatus != CompilePending {
		return errs.New(errs.KindSession, "invalid compile status transition to success from %v", deref(s.CompileStatus))
	}
	status := CompileSuccess
	s.CompileStatus = &status
	s.CompiledArtifact = artifact
	return nil
}

// MarkCompileError transitions compile status pending -> error.
func (s *Session) MarkCompileError(message string) error {
	if s.CompileStatus == nil || *s.CompileStatus != CompilePending {
		return errs.New(errs.KindSession, "invalid compile status transition to error from %v", deref(s.CompileStatus))
	}
	status := CompileError
	s.CompileStatus = &status
	s.CompileError = &message
	return nil
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
