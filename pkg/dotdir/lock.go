package dotdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

const lockFile = "daemon.lock"

// ErrDaemonRunning is returned by LockDaemon when another process holds the
// daemon lock for the same directory.
var ErrDaemonRunning = errors.New("another memsync daemon is running")

// Lock is an exclusive advisory lock on a .memsync/ directory.
type Lock struct {
	file *os.File
}

// LockDaemon takes the daemon lock in the target .memsync/ directory without
// blocking. Only one daemon may run per directory so that two processes never
// push the same log entries.
func (m *Manager) LockDaemon(overrideDir string) (*Lock, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, lockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w (lock %s)", ErrDaemonRunning, path)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	return &Lock{file: file}, nil
}

// Release drops the lock. Releasing a nil lock is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		return fmt.Errorf("unlocking daemon lock: %w", err)
	}
	return l.file.Close()
}
