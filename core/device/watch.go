package device

import (
	"context"
	"fmt"
	"path/filepath"

	"DeckPilot/logger"

	"github.com/fsnotify/fsnotify"
)

// WatchMapping reloads the YAML control map whenever the file changes and
// hands the parsed map to onChange. Invalid files are logged and ignored.
// It blocks until ctx is done.
func WatchMapping(ctx context.Context, path string, onChange func(ControlMap)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create mapping watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			m, err := LoadControlMap(path)
			if err != nil {
				logger.Warn("control map reload failed", logger.String("path", path), logger.ErrorField(err))
				continue
			}
			logger.Info("control map reloaded", logger.String("path", path), logger.Int("controls", len(m)))
			onChange(m)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("control map watcher error", logger.ErrorField(err))
		}
	}
}
