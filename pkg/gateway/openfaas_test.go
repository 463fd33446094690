package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyrun/polyrun/pkg/errs"
	"github.com/polyrun/polyrun/pkg/models"
)

func TestFunctionNameForRuntime(t *testing.T) {
	assert.Equal(t, "nodejs-runtime", FunctionNameForRuntime("nodejs"))
	assert.Equal(t, "python-runtime", FunctionNameForRuntime("python"))
	assert.Equal(t, "rust-runtime", FunctionNameForRuntime("rust"))
}

func TestInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/function/nodejs-runtime/execute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.ExecuteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "req-1", req.RequestID)

		json.NewEncoder(w).Encode(models.ExecuteResponse{
			Result:          json.RawMessage(`{"sum":3}`),
			ExecutionTimeMs: 12,
		})
	}))
	defer server.Close()

	c := NewOpenFaaSClient(server.URL, time.Second)
	resp, err := c.Invoke(context.Background(), "nodejs-runtime", &models.ExecuteRequest{
		RequestID: "req-1",
		Params:    json.RawMessage(`{"a":1,"b":2}`),
		Context:   json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":3}`, string(resp.Result))
	assert.Equal(t, int64(12), resp.ExecutionTimeMs)
}

func TestInvoke_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "function not found", http.StatusNotFound)
	}))
	defer server.Close()

	c := NewOpenFaaSClient(server.URL, time.Second)
	_, err := c.Invoke(context.Background(), "nodejs-runtime", &models.ExecuteRequest{RequestID: "req-1"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRuntime))
	assert.Contains(t, err.Error(), "404")
}

func TestInvoke_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewOpenFaaSClient(server.URL, time.Second)
	_, err := c.Invoke(context.Background(), "nodejs-runtime", &models.ExecuteRequest{RequestID: "req-1"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRuntime))
}

func TestInvoke_Unreachable(t *testing.T) {
	c := NewOpenFaaSClient("http://127.0.0.1:1", 100*time.Millisecond)
	_, err := c.Invoke(context.Background(), "nodejs-runtime", &models.ExecuteRequest{RequestID: "req-1"})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindRuntime))
}
