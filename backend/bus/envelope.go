package bus

import (
	"time"

	"github.com/jonwraymond/toolrelay/backend"
)

// ListToolsName is the reserved tool name used to ask a bus server for its
// tool list.
const ListToolsName = "tools/list"

// Request is the outbound call envelope.
type Request struct {
	RequestID      string         `json:"requestId"`
	ToolName       string         `json:"toolName"`
	Arguments      map[string]any `json:"arguments,omitempty"`
	CallerIdentity backend.Caller `json:"callerIdentity"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Response is the correlated reply envelope.
type Response struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToolInfo is the wire form of one entry in a tools/list result.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}
