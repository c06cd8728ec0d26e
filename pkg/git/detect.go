// Package git detects the git repository a command runs in, so records can
// be attributed to it.
package git

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const detectTimeout = 5 * time.Second

// ErrNotRepository is returned when dir is not inside a git work tree.
var ErrNotRepository = errors.New("not inside a git repository")

// RepoName returns the base name of the work tree containing dir. An empty
// dir means the current working directory.
func RepoName(ctx context.Context, dir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", ErrNotRepository
		}
		return "", fmt.Errorf("running git: %w", err)
	}

	top := strings.TrimSpace(string(out))
	if top == "" {
		return "", ErrNotRepository
	}
	return filepath.Base(top), nil
}
