package models

import "encoding/json"

// ExecuteRequest is the payload sent to a worker runtime.
type ExecuteRequest struct {
	RequestType   string          `json:"request_type,omitempty"`
	RequestID     string          `json:"request_id"`
	Params        json.RawMessage `json:"params"`
	Context       json.RawMessage `json:"context"`
	ScriptContent *string         `json:"script_content,omitempty"`
}

// ExecuteResponse is the worker's reply. Degraded responses set the
// Degraded flag and carry a zero execution time.
type ExecuteResponse struct {
	Result           json.RawMessage `json:"result"`
	ExecutionTimeMs  int64           `json:"execution_time_ms"`
	MemoryUsageBytes *int64          `json:"memory_usage_bytes,omitempty"`
	Degraded         bool            `json:"degraded,omitempty"`
}
