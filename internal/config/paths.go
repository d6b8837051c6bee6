package config

import (
	"os"
	"path/filepath"
	"strings"
)

// EnvHome overrides the default instance directory when set.
const EnvHome = "ADA_HOME"

// InstancePaths contains all paths for an Ada instance.
type InstancePaths struct {
	Home      string // Instance home directory
	ConfigDB  string // SQLite configuration store path
	PID       string // Daemon PID file path
	Logs      string // Logs directory
	ModelsDir string // Downloaded speech models directory
	TempDir   string // Temporary files directory
}

// GetInstancePaths returns all paths under the given home directory.
// An empty home defaults to AdaHome().
func GetInstancePaths(home string) InstancePaths {
	if home == "" {
		home = AdaHome()
	}

	return InstancePaths{
		Home:      home,
		ConfigDB:  filepath.Join(home, "config.db"),
		PID:       filepath.Join(home, "adad.pid"),
		Logs:      filepath.Join(home, "logs"),
		ModelsDir: filepath.Join(home, "models"),
		TempDir:   filepath.Join(home, "tmp"),
	}
}

// AdaHome returns the Ada home directory. The ADA_HOME environment
// variable takes precedence; otherwise ~/.ada is used.
func AdaHome() string {
	if env := strings.TrimSpace(os.Getenv(EnvHome)); env != "" {
		return ExpandPath(env)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".ada")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given home if it does not exist.
func EnsureInstanceDirs(home string) (InstancePaths, error) {
	paths := GetInstancePaths(home)

	dirs := []string{
		paths.Home,
		paths.Logs,
		paths.ModelsDir,
		paths.TempDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return paths, err
		}
	}

	return paths, nil
}
