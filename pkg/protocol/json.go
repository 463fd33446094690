package protocol

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/polyrun/polyrun/pkg/errs"
)

const maxErrorBodyBytes = 512

// JSONAdapter speaks JSON-over-HTTP: POST {url}/execute with the payload
// as the request body.
type JSONAdapter struct {
	client *http.Client
}

func NewJSONAdapter() *JSONAdapter {
	return &JSONAdapter{client: &http.Client{}}
}

// NewJSONAdapterWithClient wraps a custom HTTP client (useful for testing).
func NewJSONAdapterWithClient(client *http.Client) *JSONAdapter {
	return &JSONAdapter{client: client}
}

func (a *JSONAdapter) SendRequest(ctx context.Context, url string, payload []byte, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to build runtime request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "runtime request to %s failed", url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to read runtime response from %s", url)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := errs.New(errs.KindRuntime, "runtime returned status %d: %s", resp.StatusCode, truncate(body, maxErrorBodyBytes))
		// A worker 4xx reflects a fixed disagreement with the backend;
		// retrying cannot change the outcome.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
