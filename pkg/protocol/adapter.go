// Package protocol implements the transport adapters used to reach
// worker runtimes, plus the resilience layer that wraps them.
package protocol

import (
	"context"
	"time"

	"github.com/polyrun/polyrun/pkg/errs"
)

// Adapter sends an opaque payload to a worker and returns the raw
// response bytes. The timeout bounds the whole call including
// connection; a non-positive timeout lets the adapter pick its default.
type Adapter interface {
	SendRequest(ctx context.Context, url string, payload []byte, timeout time.Duration) ([]byte, error)
}

// Kind names a transport protocol.
type Kind string

const (
	KindJSON Kind = "json"
	KindRPC  Kind = "rpc"
)

// New returns the adapter for a protocol kind.
func New(kind Kind) (Adapter, error) {
	switch kind {
	case KindJSON:
		return NewJSONAdapter(), nil
	case KindRPC:
		return NewGRPCAdapter(), nil
	default:
		return nil, errs.New(errs.KindConfig, "unknown protocol %q", kind)
	}
}
