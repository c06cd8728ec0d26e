package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Notifier is woken when the local database changes.
type Notifier interface {
	Notify()
}

// Watch notifies n whenever the database at dbPath or its WAL file is
// written. It blocks until ctx is cancelled or the watcher fails.
func Watch(ctx context.Context, dbPath string, n Notifier) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating database watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("resolving database path: %w", err)
	}

	// SQLite replaces the -wal and -shm files, so watch the directory.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching database dir: %w", err)
	}

	watched := map[string]bool{
		abs:          true,
		abs + "-wal": true,
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			n.Notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("database watcher error: %w", err)
		}
	}
}
