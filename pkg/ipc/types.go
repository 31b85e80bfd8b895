package ipc

import "encoding/json"

// Error codes shared by the daemon, CLI and bridge.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeValidationFailed    = "VALIDATION_FAILED"
	CodeStorage             = "STORAGE_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeRemoteNotConfigured = "REMOTE_NOT_CONFIGURED"
	CodeRemote              = "REMOTE_ERROR"
	CodeVCS                 = "VCS_ERROR"
	CodeDaemonUnavailable   = "DAEMON_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// Request is one call from the CLI or the browser extension. Type names the
// registered method.
type Request struct {
	ID     string          `json:"id,omitempty"`
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response carries either Result or Error. TraceID is echoed in daemon logs.
type Response struct {
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	TraceID string          `json:"traceId,omitempty"`
}

// Error is a structured failure with a stable Code.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
