package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events editors produce per save.
const reloadDebounce = 200 * time.Millisecond

// Watch re-reads the YAML file at path whenever it changes and passes the result
// to onChange. It blocks until ctx is done. Parse failures are logged and the
// previous settings stay in effect.
func Watch(ctx context.Context, path string, onChange func(*FileConfig)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer func() {
		if err := fw.Close(); err != nil {
			slog.Warn("config watcher close", slog.Any("err", err))
		}
	}()

	path = filepath.Clean(path)
	// Watch the directory: editors often replace the file instead of writing it.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("config watcher add %s: %w", filepath.Dir(path), err)
	}
	slog.Info("config watch started", slog.String("path", path))

	reload := func() {
		fc, err := ReadFile(path)
		if err != nil {
			slog.Warn("config hot-reload failed", slog.String("path", path), slog.Any("err", err))
			return
		}
		onChange(fc)
		slog.Info("config hot-reloaded", slog.String("path", path))
	}

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", slog.Any("err", err))
		}
	}
}
