package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// RemoteError is a structured error returned by the daemon.
type RemoteError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("daemon error: %s (%s)", e.Message, e.Code)
}

// Call sends one request over a fresh connection and waits for the reply.
func Call(ctx context.Context, socketPath, method string, params any) (*Response, error) {
	var raw json.RawMessage
	if params != nil {
		var err error
		if raw, err = json.Marshal(params); err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := Request{
		ID:     fmt.Sprintf("cli-%d", time.Now().UnixNano()),
		Type:   method,
		Params: raw,
	}
	resp, err := Forward(conn, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message, Details: resp.Error.Details}
	}
	return resp, nil
}

// Forward writes req to conn and reads one response frame.
func Forward(conn net.Conn, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	respBytes, err := ReadFrame(conn)
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
