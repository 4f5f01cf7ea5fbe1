package bindings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const DefaultDebounce = 250 * time.Millisecond

// Watch loads path and keeps the returned Source in sync with it until ctx
// is done. A reload that fails to parse keeps the previous bindings.
func Watch(ctx context.Context, logger *slog.Logger, path string, debounce time.Duration) (*Source, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	src := Static(initial)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// Editors replace files by rename, so watch the directory.
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	go watchLoop(ctx, logger, fsw, path, debounce, src)
	return src, nil
}

func watchLoop(ctx context.Context, logger *slog.Logger, fsw *fsnotify.Watcher, path string, debounce time.Duration, src *Source) {
	defer fsw.Close()

	base := filepath.Base(path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Stop()
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			loaded, err := Load(path)
			if err != nil {
				logger.Warn("bindings reload failed", "path", path, "error", err)
				continue
			}
			src.set(loaded)
			logger.Info("bindings reloaded", "path", path, "count", len(loaded))
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("bindings watcher error", "path", path, "error", err)
		}
	}
}
