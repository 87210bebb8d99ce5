package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce collapses the burst of events editors emit for one save.
const WatchDebounce = 250 * time.Millisecond

// Watch reloads the configuration file whenever it changes and hands the new
// value to onChange. Reload failures are logged and the previous configuration
// stays in effect. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file so that saves done by
// rename (most editors) are seen.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	logger := slog.Default().With(slog.String("component", "config"), slog.String("path", path))
	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(WatchDebounce)
			reload = timer.C

		case <-reload:
			reload = nil
			cfg, err := Load(path)
			if err == nil {
				err = cfg.Validate()
			}
			if err != nil {
				logger.Warn("config reload failed; keeping previous configuration", slog.Any("err", err))
				continue
			}
			logger.Info("config reloaded")
			onChange(cfg)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.Any("err", err))
		}
	}
}
