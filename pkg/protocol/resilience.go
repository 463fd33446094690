package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/polyrun/polyrun/pkg/errs"
)

const (
	breakerFailureThreshold = 5
	breakerResetTimeout     = 30 * time.Second

	retryBaseInterval  = 10 * time.Millisecond
	retryMaxInterval   = time.Second
	retryRandomization = 0.1
)

// Resilient wraps an adapter with per-URL circuit breaking, retries with
// exponential backoff, and optional degraded fallbacks. Each attempt is
// individually bounded by the caller-supplied timeout; a timed-out
// attempt counts as a failure for both retry and breaker purposes.
type Resilient struct {
	inner      Adapter
	maxRetries int
	degraded   bool
	logger     *slog.Logger

	// resetTimeout is how long an open breaker waits before admitting a
	// half-open probe.
	resetTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewResilient builds the resilience layer. maxRetries is the number of
// retries after the first attempt; degraded enables canned fallback
// responses for execute and health_check.
func NewResilient(inner Adapter, maxRetries int, degraded bool, logger *slog.Logger) *Resilient {
	return &Resilient{
		inner:        inner,
		maxRetries:   maxRetries,
		degraded:     degraded,
		logger:       logger,
		resetTimeout: breakerResetTimeout,
		breakers:     make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (r *Resilient) SendRequest(ctx context.Context, url string, payload []byte, timeout time.Duration) ([]byte, error) {
	cb := r.breaker(url)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryBaseInterval
	bo.MaxInterval = retryMaxInterval
	bo.RandomizationFactor = retryRandomization
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		result, err := cb.Execute(func() (any, error) {
			return r.inner.SendRequest(ctx, url, payload, timeout)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(errs.Wrap(errs.KindRuntime, err, "circuit breaker is open for %s", url))
			}
			r.logger.Warn("runtime call failed", "url", url, "attempt", attempt, "error", err)
			return nil, err
		}
		return result.([]byte), nil
	}

	response, err := backoff.RetryWithData(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(r.maxRetries)), ctx))
	if err == nil {
		return response, nil
	}

	if r.degraded {
		if fallback, ok := degradedResponse(requestType(payload)); ok {
			r.logger.Warn("serving degraded response", "url", url, "error", err)
			return fallback, nil
		}
	}
	return nil, err
}

func (r *Resilient) breaker(url string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[url]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1, // half-open admits a single probe
		Timeout:     r.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("circuit breaker state change", "url", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[url] = cb
	return cb
}

func requestType(payload []byte) string {
	var envelope struct {
		RequestType string `json:"request_type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.RequestType == "" {
		return "execute"
	}
	return envelope.RequestType
}

// degradedResponse returns the canned fallback for operations that allow
// one. Other operations surface their error unchanged.
func degradedResponse(operation string) ([]byte, bool) {
	switch operation {
	case "execute":
		body, _ := json.Marshal(map[string]any{
			"result":            "Degraded operation: unable to execute normally",
			"execution_time_ms": 0,
			"degraded":          true,
		})
		return body, true
	case "health_check":
		body, _ := json.Marshal(map[string]any{
			"status":    "degraded",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return body, true
	default:
		return nil, false
	}
}
