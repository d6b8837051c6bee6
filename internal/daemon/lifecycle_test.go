package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ada-ai/ada/internal/config"
)

func TestPIDFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "adad.pid")

	if err := WritePIDFile(path, 4321); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	pid, err := ReadPIDFile(path)
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if pid != 4321 {
		t.Fatalf("pid = %d, want 4321", pid)
	}

	RemovePIDFile(path)
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be gone, stat err = %v", err)
	}
}

func TestWritePIDFileRequiresPath(t *testing.T) {
	if err := WritePIDFile("", 1); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestReadPIDFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adad.pid")
	if err := os.WriteFile(path, []byte("quarante-deux\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("expected error for malformed pid file")
	}

	if err := os.WriteFile(path, []byte("-7\n"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := ReadPIDFile(path); err == nil {
		t.Fatal("expected error for non-positive pid")
	}
}

func TestIsRunningNoPIDFile(t *testing.T) {
	running, pid := IsRunning(t.TempDir())
	if running || pid != 0 {
		t.Fatalf("IsRunning = (%v, %d), want (false, 0)", running, pid)
	}
}

func TestIsRunningCurrentProcess(t *testing.T) {
	home := t.TempDir()
	paths := config.GetInstancePaths(home)
	if err := WritePIDFile(paths.PID, os.Getpid()); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	running, pid := IsRunning(home)
	if !running {
		t.Fatal("IsRunning = false for a live process")
	}
	if pid != os.Getpid() {
		t.Fatalf("pid = %d, want %d", pid, os.Getpid())
	}
}

func TestIsRunningCleansStalePIDFile(t *testing.T) {
	home := t.TempDir()
	paths := config.GetInstancePaths(home)

	// Far above any realistic pid ceiling.
	if err := WritePIDFile(paths.PID, 1<<30); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	running, pid := IsRunning(home)
	if running || pid != 0 {
		t.Fatalf("IsRunning = (%v, %d), want (false, 0)", running, pid)
	}
	if _, err := os.Stat(paths.PID); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("stale pid file should be removed, stat err = %v", err)
	}
}

func TestLifecycleShutdownIsIdempotent(t *testing.T) {
	l := newLifecycle()

	select {
	case <-l.Done():
		t.Fatal("fresh lifecycle already done")
	default:
	}

	l.Shutdown()
	l.Shutdown()

	select {
	case <-l.Done():
	default:
		t.Fatal("lifecycle not done after shutdown")
	}
}
