// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDebounce is how long the file must be quiet before a reload.
const DefaultWatchDebounce = 250 * time.Millisecond

// Watch reloads live whenever its backing file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are still seen. onReload, if non-nil, runs after each successful reload.
func Watch(ctx context.Context, live *Live, logger zerolog.Logger, debounce time.Duration, onReload func(*Config)) error {
	if live.Path() == "" {
		return fmt.Errorf("config watch: no config path")
	}
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(live.Path())
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	// Stopped timer; armed on each relevant event.
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

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
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create ||
				event.Op&fsnotify.Rename == fsnotify.Rename {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("CONFIG_WATCH_ERROR")

		case <-timer.C:
			if err := live.Reload(); err != nil {
				logger.Warn().Err(err).Str("path", target).Msg("CONFIG_RELOAD_FAILED")
				continue
			}
			logger.Info().Str("path", target).Msg("CONFIG_RELOADED")
			if onReload != nil {
				onReload(live.Config())
			}
		}
	}
}
