package ipc

import (
	"os"
	"path/filepath"
	"strings"
)

// SocketDir returns the default directory for the changegate daemon socket.
// Prefers $XDG_RUNTIME_DIR/changegate/, falls back to ~/.local/share/changegate/.
func SocketDir() (string, error) {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "changegate"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "changegate"), nil
}

// SocketPath resolves the daemon socket path. A configured path wins;
// otherwise the socket lives in SocketDir.
func SocketPath(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dir, err := SocketDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "daemon.sock"), nil
}

// PidPath returns the pid file that pairs with a socket path. The pid file
// always sits next to the socket, so a configured socket moves both.
func PidPath(socketPath string) string {
	return strings.TrimSuffix(socketPath, ".sock") + ".pid"
}
