package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage/memory"
)

// reloadDelay coalesces the burst of events editors emit for a single save
const reloadDelay = 200 * time.Millisecond

// watchFixture reloads the fixture into store and rebuilds derived roles
// whenever the file changes. The parent directory is watched so editors that
// replace the file on save are followed. It returns when ctx is done.
func watchFixture(ctx context.Context, path string, store *memory.Store, engine *derive.Engine, timeout time.Duration, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logger = logger.WithField("fixture", path)
	logger.Info("Watching fixture for changes")

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

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debugf("Fixture %s event, reloading in %s", event.Op, reloadDelay)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(reloadDelay)
			reload = timer.C

		case <-reload:
			reload = nil
			reloadFixture(ctx, path, store, engine, timeout, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Fixture watcher error")
		}
	}
}

// reloadFixture keeps the previous data when the new fixture is invalid
func reloadFixture(ctx context.Context, path string, store *memory.Store, engine *derive.Engine, timeout time.Duration, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "fixture reload")

	fixture, err := memory.LoadFixture(path)
	if err != nil {
		logger.WithError(err).Warn("Ignoring invalid fixture")
		return
	}
	if err := store.Load(fixture); err != nil {
		logger.WithError(err).Warn("Failed to load fixture")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := engine.Rebuild(ctx)
	if err != nil {
		logger.WithError(err).Warn("Rebuild after fixture reload failed")
		return
	}
	logger.WithFields(map[string]interface{}{
		"run_id": result.RunID,
		"rows":   result.RowsWritten,
	}).Info("Fixture reloaded")
}
