package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func startIPCServer(t *testing.T, actions chan Action) (string, context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	sock := filepath.Join(t.TempDir(), "inkd.sock")
	done := make(chan error, 1)
	go func() {
		done <- runIPCServer(ctx, sock, actions, slog.Default())
	}()

	waitUntil(t, time.Second, func() bool {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, "IPC socket did not come up")

	return sock, cancel, done
}

func TestIPCServer_ActionRoundTrip(t *testing.T) {
	actions := make(chan Action, 4)
	sock, cancel, done := startIPCServer(t, actions)
	defer cancel()

	resp, err := SendIPCAction(sock, Calibrate{SwapXY: true})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}

	select {
	case act := <-actions:
		cal, ok := act.(Calibrate)
		if !ok || !cal.SwapXY {
			t.Fatalf("expected Calibrate{SwapXY: true}, got %#v", act)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for action on the daemon channel")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean server exit, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for server to stop")
	}
}

func TestIPCServer_StatusReply(t *testing.T) {
	actions := make(chan Action, 4)
	sock, cancel, _ := startIPCServer(t, actions)
	defer cancel()

	// Stand in for the daemon loop: answer status requests.
	go func() {
		for act := range actions {
			if sr, ok := act.(StatusRequest); ok && sr.reply != nil {
				sr.reply <- StatusSnapshot{Codename: "nova", PowerState: "awake", BatteryPercent: 77}
			}
		}
	}()

	resp, err := SendIPCAction(sock, StatusRequest{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected ok, got %+v", resp)
	}

	var snap StatusSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if snap.Codename != "nova" || snap.PowerState != "awake" || snap.BatteryPercent != 77 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestIPCServer_RejectsMalformedLine(t *testing.T) {
	actions := make(chan Action, 4)
	sock, cancel, _ := startIPCServer(t, actions)
	defer cancel()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var resp IPCResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "error" || !strings.Contains(resp.Error, "parse action") {
		t.Fatalf("expected parse error, got %+v", resp)
	}
}

func TestIPCServer_QueueFull(t *testing.T) {
	// Unbuffered channel that nobody drains: every send must be refused
	// instead of hanging the connection.
	actions := make(chan Action)
	sock, cancel, _ := startIPCServer(t, actions)
	defer cancel()

	_, err := SendIPCAction(sock, Suspend{})
	if err == nil {
		t.Fatal("expected queue-full error")
	}
	if !strings.Contains(err.Error(), "action queue full") {
		t.Fatalf("expected queue-full error, got %v", err)
	}
}
