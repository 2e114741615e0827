// Package client connects the CLI to the review daemon, spawning one on
// demand.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/changegate/changegate/internal/ipc"
)

// Call sends one request to the daemon and returns its response.
func Call(conn net.Conn, req ipc.Request) (ipc.Response, error) {
	if err := ipc.WriteJSON(conn, ipc.TagRequest, &req); err != nil {
		return ipc.Response{}, fmt.Errorf("send request: %w", err)
	}

	tag, payload, err := ipc.ReadFrame(conn)
	if err != nil {
		return ipc.Response{}, fmt.Errorf("read daemon frame: %w", err)
	}
	if tag != ipc.TagResponse {
		return ipc.Response{}, fmt.Errorf("expected response frame (0x%02x), got 0x%02x", ipc.TagResponse, tag)
	}

	var res ipc.Response
	if err := json.Unmarshal(payload, &res); err != nil {
		return ipc.Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if !res.OK && res.Error != "" {
		return res, errors.New(res.Error)
	}
	return res, nil
}

// Connect attempts to connect to a running daemon. An empty socketPath uses
// the standard runtime location.
func Connect(socketPath string) (net.Conn, error) {
	sockPath, err := ipc.SocketPath(socketPath)
	if err != nil {
		return nil, err
	}
	return net.Dial("unix", sockPath)
}

// ConnectOrSpawn tries to connect to an existing daemon. If none is
// running, it spawns one as a detached child and retries with backoff.
// The spawned daemon resolves the same socket path from its own config.
func ConnectOrSpawn(ctx context.Context, selfPath, socketPath string) (net.Conn, error) {
	if conn, err := Connect(socketPath); err == nil {
		return conn, nil
	}

	// Spawn daemon.
	cmd := exec.Command(selfPath, "daemon")
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}
	cmd.Process.Release()

	// Backoff retry.
	delays := []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		200 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, d := range delays {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
		if conn, err := Connect(socketPath); err == nil {
			return conn, nil
		}
	}
	return nil, fmt.Errorf("daemon did not start within timeout")
}
