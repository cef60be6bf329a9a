package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors replace files instead of writing in place, so a save can arrive
// as several events in quick succession. Reloads wait this long after the
// last one.
const reloadDebounce = 200 * time.Millisecond

// Watch reloads the file at path whenever it changes and hands each good
// load to apply. A reload that fails to parse or validate is logged and
// skipped; the running configuration stays as it was. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory, not the file: a rename-over-save would drop a
	// watch held on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				pending = time.After(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)

		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed, keeping previous settings",
					"path", path,
					"error", err,
				)
				continue
			}
			apply(cfg)
			logger.Info("configuration reloaded", "path", path)
		}
	}
}
