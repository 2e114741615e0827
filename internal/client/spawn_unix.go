//go:build unix

package client

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr detaches the spawned daemon into its own session so it
// outlives the CLI process and ignores its terminal signals.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
