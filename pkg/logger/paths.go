/* pkg/logger/paths.go */

package logger

import (
	"os"
	"path/filepath"
)

// PlatformLogPaths returns candidate log paths in order of priority.
func PlatformLogPaths() []string {
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		if home, err := os.UserHomeDir(); err == nil {
			state = filepath.Join(home, ".local", "state")
		}
	}

	paths := []string{"/var/log/warden/warden.log"}
	if state != "" {
		paths = append(paths, filepath.Join(state, "warden", "warden.log"))
	}
	return append(paths, "./warden.log")
}

// FindWritableLogPath returns the first candidate that can be opened for append.
func FindWritableLogPath(candidates []string) (string, bool) {
	for _, path := range candidates {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			continue
		}
		file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			continue
		}
		_ = file.Close()
		return path, true
	}
	return "", false
}
