package artifact

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor or copy produces.
const DefaultDebounce = 250 * time.Millisecond

// Watch reloads store whenever the bundle file at path changes, until ctx
// is done. The parent directory is watched so atomic renames are seen.
func Watch(ctx context.Context, path string, store *Store, debounce time.Duration, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if shouldReload(ev, target) {
				timer.Reset(debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("bundle watcher error", zap.Error(err))
		case <-timer.C:
			if _, err := store.Reload(ctx); err != nil {
				logger.Error("bundle reload failed, keeping previous bundle", zap.String("path", target), zap.Error(err))
			}
		}
	}
}

// shouldReload reports whether ev may have replaced the bundle at target.
func shouldReload(ev fsnotify.Event, target string) bool {
	if filepath.Clean(ev.Name) != target {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
