// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatai.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// CONFIG WATCHER
// =============================================================================

// DefaultWatchDebounce is how long Watch waits after the last change before
// reloading. Editors often write a file several times in a row.
const DefaultWatchDebounce = 200 * time.Millisecond

// WatchOptions tunes Watch. The zero value is usable.
type WatchOptions struct {
	// Debounce defaults to DefaultWatchDebounce.
	Debounce time.Duration

	// OnError receives reload failures and watcher errors. The previous
	// configuration stays in effect. May be nil.
	OnError func(error)
}

// Watch reloads the config file at path whenever it changes and passes each
// successfully validated result to onChange. It blocks until ctx is done.
//
// The parent directory is watched rather than the file, so replacements by
// rename (atomic saves) are seen too.
func Watch(ctx context.Context, path string, onChange func(*Config), opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatchDebounce
	}
	report := func(err error) {
		if opts.OnError != nil {
			opts.OnError(err)
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	timer := time.NewTimer(opts.Debounce)
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
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(opts.Debounce)

		case <-timer.C:
			cfg, err := LoadFromPath(abs)
			if err != nil {
				report(err)
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(fmt.Errorf("config watcher: %w", err))
		}
	}
}
