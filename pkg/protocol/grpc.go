package protocol

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/polyrun/polyrun/pkg/errs"
)

const connectTimeout = 5 * time.Second

// jsonCodec lets gRPC carry raw JSON frames so the worker contract stays
// schemaless on the wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	if raw, ok := v.(*json.RawMessage); ok {
		return *raw, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// rpcOperation is one of the six remote operations a worker exposes.
type rpcOperation struct {
	method  string
	timeout time.Duration
}

var rpcOperations = map[string]rpcOperation{
	"execute":      {"/runtime.RuntimeService/Execute", 30 * time.Second},
	"initialize":   {"/runtime.RuntimeService/Initialize", 60 * time.Second},
	"health_check": {"/runtime.RuntimeService/HealthCheck", 5 * time.Second},
	"metrics":      {"/runtime.RuntimeService/Metrics", 10 * time.Second},
	"logs":         {"/runtime.RuntimeService/Logs", 15 * time.Second},
	"config":       {"/runtime.RuntimeService/Config", 10 * time.Second},
}

// GRPCAdapter sends JSON envelopes over long-lived gRPC connections,
// one per worker URL. The envelope's request_type selects the remote
// operation and its default timeout.
type GRPCAdapter struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

func NewGRPCAdapter() *GRPCAdapter {
	return &GRPCAdapter{conns: make(map[string]*grpc.ClientConn)}
}

func (a *GRPCAdapter) SendRequest(ctx context.Context, url string, payload []byte, timeout time.Duration) ([]byte, error) {
	var envelope struct {
		RequestType string `json:"request_type"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "invalid request envelope")
	}
	if envelope.RequestType == "" {
		envelope.RequestType = "execute"
	}

	op, ok := rpcOperations[envelope.RequestType]
	if !ok {
		return nil, errs.New(errs.KindRuntime, "Unknown request type: %s", envelope.RequestType)
	}
	if timeout <= 0 {
		timeout = op.timeout
	}

	conn, err := a.conn(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := json.RawMessage(payload)
	var reply json.RawMessage
	err = conn.Invoke(ctx, op.method, &req, &reply, grpc.CallContentSubtype("json"))
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "rpc %s to %s failed", envelope.RequestType, url)
	}

	return reply, nil
}

// conn returns the pooled connection for a worker URL, creating it on
// first use.
func (a *GRPCAdapter) conn(url string) (*grpc.ClientConn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if conn, ok := a.conns[url]; ok {
		return conn, nil
	}

	conn, err := grpc.NewClient(url,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithConnectParams(grpc.ConnectParams{MinConnectTimeout: connectTimeout}),
	)
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, err, "failed to connect to %s", url)
	}

	a.conns[url] = conn
	return conn, nil
}

// Close releases all pooled connections.
func (a *GRPCAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for url, conn := range a.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.conns, url)
	}
	return firstErr
}
