package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch logs a warning whenever the config file changes on disk. The
// running relay keeps its startup snapshot — the command map is
// immutable once built — so the warning tells the operator a restart is
// needed to apply the new file. Watch returns after the watcher is
// registered; it stops when ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// editors which replace the file (write temp + rename) are still seen.
func Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != abs {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				slog.Warn("[config] configuration file changed on disk; restart to apply", "path", abs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("[config] watcher error", "error", err)
			}
		}
	}()
	return nil
}
