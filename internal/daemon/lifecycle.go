package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ada-ai/ada/internal/config"
	"github.com/ada-ai/ada/internal/procutil"
)

// lifecycle coordinates shutdown signalling between Run, the gateway's
// shutdown endpoint and OS signal handlers.
type lifecycle struct {
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func newLifecycle() *lifecycle {
	return &lifecycle{shutdownChan: make(chan struct{})}
}

// Done returns a channel that is closed once shutdown was requested.
func (l *lifecycle) Done() <-chan struct{} {
	return l.shutdownChan
}

// Shutdown signals all listeners. Safe to call more than once.
func (l *lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownChan) })
}

// WritePIDFile writes the given PID into the provided file path with secure
// permissions.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return fmt.Errorf("pid file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}

	return nil
}

// ReadPIDFile returns the process id recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s", path)
	}
	return pid, nil
}

// RemovePIDFile removes the pid file if it exists.
func RemovePIDFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "daemon: remove pid file: %v\n", err)
	}
}

// IsRunning reports whether an assistant daemon is alive for the given
// instance home, along with its pid. Pid files left behind by an unclean
// exit are removed.
func IsRunning(home string) (bool, int) {
	paths := config.GetInstancePaths(home)

	pid, err := ReadPIDFile(paths.PID)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			os.Remove(paths.PID)
		}
		return false, 0
	}

	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.PID)
		return false, 0
	}

	return true, pid
}
