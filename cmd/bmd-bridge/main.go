// Command bmd-bridge is the native messaging host for the browser
// extension. It relays each framed request from stdin to the bmd daemon
// and writes the daemon's reply back to stdout.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/rexliu/davmark/pkg/config"
	"github.com/rexliu/davmark/pkg/ipc"
)

func main() {
	profile := flag.String("profile", os.Getenv("DAVMARK_PROFILE"), "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "bridge")
	socketPath, err := resolveSocket(*profile, *socket)
	if err != nil {
		logger.Error("resolve socket", "err", err)
		os.Exit(1)
	}

	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	if err := relay(reader, writer, func() (net.Conn, error) {
		return net.Dial("unix", socketPath)
	}, logger); err != nil {
		logger.Error("bridge exiting", "err", err)
		os.Exit(1)
	}
}

func resolveSocket(profile, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if profile == "" {
		return "", errors.New("--profile or DAVMARK_PROFILE required")
	}
	cfg, err := config.LoadProfile(profile)
	if err != nil {
		return "", err
	}
	return config.ResolvePath(profile, cfg.IPC.SocketPath), nil
}

// relay forwards frames until stdin closes. A daemon that cannot be reached
// is reported to the extension as a DAEMON_UNAVAILABLE error response.
func relay(r io.Reader, w *bufio.Writer, dial func() (net.Conn, error), logger *slog.Logger) error {
	for {
		frame, err := ipc.ReadFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var req ipc.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			logger.Warn("invalid message", "err", err)
			if err := reply(w, ipc.Response{Error: ipc.Errorf(ipc.CodeInvalidRequest, "invalid json", nil)}); err != nil {
				return err
			}
			continue
		}
		resp, err := forward(dial, req)
		if err != nil {
			logger.Warn("forward failed", "type", req.Type, "err", err)
			resp = &ipc.Response{ID: req.ID, Error: ipc.Errorf(ipc.CodeDaemonUnavailable, err.Error(), nil)}
		}
		if err := reply(w, *resp); err != nil {
			return err
		}
	}
}

func forward(dial func() (net.Conn, error), req ipc.Request) (*ipc.Response, error) {
	conn, err := dial()
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()
	return ipc.Forward(conn, req)
}

func reply(w *bufio.Writer, resp ipc.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := ipc.WriteFrame(w, payload); err != nil {
		return err
	}
	return w.Flush()
}
