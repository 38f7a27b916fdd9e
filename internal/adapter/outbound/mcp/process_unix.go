//go:build !windows

package mcp

import (
	"os"
	"os/exec"
	"syscall"
)

// prepareCommand puts the server in its own process group so a terminal
// Ctrl+C reaches the bridge only; the bridge forwards the stop itself.
func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// processIsAlive checks if a process is still running using Signal(0).
func processIsAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// sendGracefulStop sends SIGTERM.
func sendGracefulStop(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
