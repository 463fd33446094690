package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/polyrun/polyrun/pkg/config"
	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/gateway"
	"github.com/polyrun/polyrun/pkg/models"
	"github.com/polyrun/polyrun/pkg/protocol"
)

// FunctionGateway invokes a worker through a function-as-a-service
// gateway. Satisfied by gateway.OpenFaaSClient.
type FunctionGateway interface {
	Invoke(ctx context.Context, functionName string, req *models.ExecuteRequest) (*models.ExecuteResponse, error)
}

// Manager dispatches session executions to worker runtimes: gateway
// first when configured, then the direct worker URL under the resilience
// layer.
type Manager struct {
	cfg      config.RuntimeConfig
	selector *Selector
	adapter  protocol.Adapter
	gateway  FunctionGateway
	logger   *slog.Logger
}

func NewManager(cfg config.RuntimeConfig, selector *Selector, adapter protocol.Adapter, gw FunctionGateway, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		selector: selector,
		adapter:  adapter,
		gateway:  gw,
		logger:   logger,
	}
}

// Execute runs the session's function with the given params. Rust
// sessions settle their compile status before dispatch; a successful
// dispatch resolves any remaining pending status.
func (m *Manager) Execute(ctx context.Context, s *models.Session, params json.RawMessage) (*models.ExecuteResponse, error) {
	kind, err := m.selector.Select(ctx, s.LanguageTitle)
	if err != nil {
		return nil, err
	}

	if kind == KindRust {
		if err := resolveRustCompile(s); err != nil {
			return nil, err
		}
	}

	req := &models.ExecuteRequest{
		RequestID:     s.RequestID,
		Params:        params,
		Context:       s.Context,
		ScriptContent: s.ScriptContent,
	}

	resp, err := m.dispatch(ctx, kind, req)
	if err != nil {
		return nil, err
	}

	if s.CompileStatus != nil && *s.CompileStatus == models.CompilePending {
		if err := s.MarkCompileSuccess(nil); err != nil {
			m.logger.Warn("failed to resolve compile status", "request_id", s.RequestID, "error", err)
		}
	}

	return resp, nil
}

// resolveRustCompile settles a Rust session's compile status. Artifact
// production is stubbed: a non-empty script compiles trivially, an
// empty one fails.
func resolveRustCompile(s *models.Session) error {
	if s.CompileStatus == nil {
		return nil
	}
	switch *s.CompileStatus {
	case models.CompileError:
		msg := "Unknown compilation error"
		if s.CompileError != nil {
			msg = *s.CompileError
		}
		return errs.New(errs.KindCompilation, "%s", msg)
	case models.CompilePending:
		if s.ScriptContent == nil || strings.TrimSpace(*s.ScriptContent) == "" {
			_ = s.MarkCompileError("Script content is empty")
			return errs.New(errs.KindCompilation, "Script content is empty")
		}
		return s.MarkCompileSuccess(nil)
	}
	return nil
}

func (m *Manager) dispatch(ctx context.Context, kind Kind, req *models.ExecuteRequest) (*models.ExecuteResponse, error) {
	if m.gateway != nil {
		functionName := gateway.FunctionNameForRuntime(string(kind))
		resp, err := m.gateway.Invoke(ctx, functionName, req)
		if err == nil {
			m.logger.Debug("executed via gateway", "function", functionName, "request_id", req.RequestID)
			return resp, nil
		}
		m.logger.Warn("gateway execution failed, falling back to direct runtime",
			"function", functionName, "error", err)
	}

	url := kind.URLFor(m.cfg)

	wireReq := *req
	if m.cfg.Protocol == string(protocol.KindRPC) {
		wireReq.RequestType = "execute"
	}
	payload, err := json.Marshal(&wireReq)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to encode runtime request")
	}

	body, err := m.adapter.SendRequest(ctx, url, payload, m.cfg.Timeout)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "Failed to execute function")
	}

	var resp models.ExecuteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "malformed runtime response")
	}
	if len(resp.Result) == 0 {
		return nil, errs.New(errs.KindRuntime, "malformed runtime response: missing result")
	}

	return &resp, nil
}
