package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the file at path whenever it changes and hands every config
// that loads cleanly to fn. Invalid edits are logged and skipped. The parent
// directory is watched so that editors which replace the file are seen.
// Watch returns once the watcher is installed; it stops when ctx is done.
func Watch(ctx context.Context, path string, logger *logrus.Logger, fn func(Config)) error {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(target)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(target)
				if err != nil {
					logger.WithError(err).Warn("config reload skipped")
					continue
				}
				logger.WithField("path", target).Info("config reloaded")
				fn(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("config watcher error")
			}
		}
	}()

	return nil
}
