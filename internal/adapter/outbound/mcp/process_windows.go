//go:build windows

package mcp

import (
	"os"
	"os/exec"

	"golang.org/x/sys/windows"
)

func prepareCommand(cmd *exec.Cmd) {}

// processIsAlive opens a handle and checks the exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	// STILL_ACTIVE (259) means the process has not exited yet.
	return exitCode == 259
}

// sendGracefulStop terminates the process. Windows has no SIGTERM; Kill
// calls TerminateProcess.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
