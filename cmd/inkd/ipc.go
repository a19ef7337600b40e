package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"
)

// ============================================================================
// IPC: Unix domain socket control surface
// ============================================================================
//
// The daemon listens on a unix socket for line-delimited JSON actions, one
// action per line:
//
//	client:  {"type": "action_name", "data": {...}}
//	server:  {"status": "ok"} or {"status": "error", "error": "msg"}
//
// "status" actions additionally carry the snapshot in "data". The socket is
// how inkctl and the vendor hooks (udev rules, pickel scripts) reach the
// daemon without linking against it.
// ============================================================================

// statusReplyTimeout bounds how long an IPC connection waits for the daemon
// loop to answer a status request.
const statusReplyTimeout = 2 * time.Second

// IPCResponse is the reply line for every action a client submits.
type IPCResponse struct {
	Status string          `json:"status"`          // "ok" or "error"
	Error  string          `json:"error,omitempty"` // set when status == "error"
	Data   json.RawMessage `json:"data,omitempty"`  // snapshot payload for status requests
}

// runIPCServer owns the control socket for the daemon's lifetime. It replaces
// any stale socket file left by a previous run, serves until ctx is canceled,
// and removes the socket again on the way out.
func runIPCServer(ctx context.Context, socketPath string, actions chan<- Action, logger *slog.Logger) error {
	// A crashed daemon leaves the old socket file behind, which would make
	// Listen fail with "address already in use".
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	defer os.Remove(socketPath)

	// Make socket accessible (consider security implications in production)
	if err := os.Chmod(socketPath, 0666); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	// Accept has no context hook; closing the listener is the only way to
	// interrupt it on shutdown.
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || isClosedErr(err) {
				logger.Debug("IPC listener closed")
				return nil
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		go serveIPCConn(conn, actions, logger)
	}
}

// isClosedErr matches the error Accept returns once the listener is closed.
// Some platforms only surface it as text.
func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection")
}

// serveIPCConn reads actions off one client connection, line by line, and
// writes exactly one reply line per action. A failed write means the peer is
// gone, so the connection is dropped rather than drained.
func serveIPCConn(conn net.Conn, actions chan<- Action, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Text()
		logger.Debug("IPC received", "line", line)

		resp := dispatchIPCLine([]byte(line), actions)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC response write failed", "error", err)
			return
		}
	}

	logger.Debug("IPC connection closed")
}

// dispatchIPCLine parses one submitted action, routes it to the daemon loop,
// and builds the reply. Status requests wait (briefly) for the loop's answer;
// everything else is fire-and-forget once queued.
func dispatchIPCLine(line []byte, actions chan<- Action) IPCResponse {
	act, err := UnmarshalAction(line)
	if err != nil {
		return IPCResponse{Status: "error", Error: fmt.Sprintf("parse action: %v", err)}
	}

	if _, ok := act.(StatusRequest); ok {
		// Request/reply: attach a reply channel the wire format never sees
		// and wait for the daemon loop to answer.
		reply := make(chan StatusSnapshot, 1)
		if !trySend(actions, StatusRequest{reply: reply}) {
			return IPCResponse{Status: "error", Error: "action queue full"}
		}

		select {
		case snap := <-reply:
			data, err := json.Marshal(snap)
			if err != nil {
				return IPCResponse{Status: "error", Error: fmt.Sprintf("marshal snapshot: %v", err)}
			}
			return IPCResponse{Status: "ok", Data: data}

		case <-time.After(statusReplyTimeout):
			return IPCResponse{Status: "error", Error: "status request timed out"}
		}
	}

	if !trySend(actions, act) {
		return IPCResponse{Status: "error", Error: "action queue full"}
	}
	return IPCResponse{Status: "ok"}
}

// trySend performs a non-blocking send so a wedged daemon loop cannot pile up
// IPC connections.
func trySend(actions chan<- Action, act Action) bool {
	select {
	case actions <- act:
		return true
	default:
		return false
	}
}

// SendIPCAction submits one action over the daemon's control socket and
// returns the decoded reply. A non-ok reply comes back as both the response
// and an error, so callers can either inspect or just propagate.
func SendIPCAction(socketPath string, act Action) (IPCResponse, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	data, err := MarshalAction(act)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal action: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "%s\n", strings.TrimSpace(string(data))); err != nil {
		return IPCResponse{}, fmt.Errorf("send action: %w", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Status != "ok" {
		return resp, fmt.Errorf("ipc error: %s", resp.Error)
	}
	return resp, nil
}
