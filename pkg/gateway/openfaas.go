// Package gateway invokes worker functions through an OpenFaaS gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
)

// OpenFaaSClient posts execute requests to a function gateway. Function
// names follow the {kind}-runtime convention.
type OpenFaaSClient struct {
	client     *http.Client
	gatewayURL string
}

func NewOpenFaaSClient(gatewayURL string, timeout time.Duration) *OpenFaaSClient {
	return &OpenFaaSClient{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: gatewayURL,
	}
}

// FunctionNameForRuntime maps a runtime kind to its gateway function name.
func FunctionNameForRuntime(kind string) string {
	return kind + "-runtime"
}

// Invoke calls {gateway}/function/{name}/execute and parses the worker
// response.
func (c *OpenFaaSClient) Invoke(ctx context.Context, functionName string, req *models.ExecuteRequest) (*models.ExecuteResponse, error) {
	url := c.gatewayURL + "/function/" + functionName + "/execute"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to encode gateway request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to build gateway request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to call gateway function %s", functionName)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to read gateway response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.New(errs.KindRuntime, "gateway function %s returned status %d: %s", functionName, resp.StatusCode, respBody)
	}

	var execResp models.ExecuteResponse
	if err := json.Unmarshal(respBody, &execResp); err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to parse gateway response")
	}

	return &execResp, nil
}
