// Package sqlitepath locates the local memsync database when no path is
// configured.
package sqlitepath

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolveSQLitePath returns override when set, then the MEMSYNC_SQLITE
// environment variable, then the first existing well-known database file.
func ResolveSQLitePath(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if envPath := strings.TrimSpace(os.Getenv("MEMSYNC_SQLITE")); envPath != "" {
		return envPath, nil
	}

	for _, candidate := range sqliteCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", errors.New("could not find a memsync SQLite database; set storage.sqlite_path or pass --sqlite")
}

// DefaultPath is where `memsync init` places a new database.
func DefaultPath(dotdir string) string {
	return filepath.Join(dotdir, "memsync.db")
}

func sqliteCandidates() []string {
	candidates := []string{
		filepath.Join(".memsync", "memsync.db"),
		"memsync.db",
	}

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".memsync", "memsync.db"))
	}

	if xdgHome := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdgHome != "" {
		candidates = append(candidates, filepath.Join(xdgHome, "memsync", "memsync.db"))
	}

	return candidates
}
