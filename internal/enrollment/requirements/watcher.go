package requirements

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the rules file into r whenever it changes on disk, until ctx
// is cancelled. The parent directory is watched so editors that replace the
// file by rename are picked up. A file that fails to parse is logged and the
// previous table stays active.
func Watch(ctx context.Context, path string, r *Resolver, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve rules path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rules watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch rules dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			table, err := LoadTable(abs)
			if err != nil {
				logger.Error("requirement rules reload failed; keeping previous table",
					"path", abs, "error", err)
				continue
			}
			r.Swap(table)
			logger.Info("requirement rules reloaded", "path", abs, "combinations", table.Len())
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("requirement rules watcher error", "error", err)
		}
	}
}
