//go:build !windows

package procutil

import (
	"os"
	"syscall"
)

// TerminateByPID asks the process identified by pid to shut down with
// SIGTERM.
func TerminateByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// IsProcessAlive reports whether a process with the given pid exists. Signal
// zero performs the existence check without delivering anything.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
