// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AdPulse/pkg/logging"
	"github.com/AleutianAI/AdPulse/services/bandit"
)

// configWatcher reloads the yaml config when the file changes and swaps
// it into the running service.
//
// # Description
//
// Watches the directory containing the config file (editors typically
// rename-replace, so watching the file itself misses updates) and
// debounces bursts of events before reloading. A reload that fails to
// parse or validate is logged and dropped; the service keeps running on
// the previous configuration.
//
// # Thread Safety
//
// Safe for concurrent use. Reloads are applied from a single goroutine.
type configWatcher struct {
	path     string
	svc      *bandit.Service
	logger   *logging.Logger
	debounce time.Duration

	watcher  *fsnotify.Watcher
	done     chan struct{}
	stopOnce sync.Once
}

// newConfigWatcher starts watching path for changes.
func newConfigWatcher(path string, svc *bandit.Service, logger *logging.Logger) (*configWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	cw := &configWatcher{
		path:     abs,
		svc:      svc,
		logger:   logger,
		debounce: 250 * time.Millisecond,
		watcher:  w,
		done:     make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

// Stop halts the watcher. Safe to call more than once.
func (cw *configWatcher) Stop() {
	cw.stopOnce.Do(func() {
		close(cw.done)
		_ = cw.watcher.Close()
	})
}

func (cw *configWatcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-cw.done:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
				timerC = timer.C
			} else {
				timer.Reset(cw.debounce)
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("config watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			cw.reload()
		}
	}
}

func (cw *configWatcher) reload() {
	cfg, err := bandit.LoadConfig(cw.path)
	if err != nil {
		cw.logger.Warn("config reload rejected", "path", cw.path, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cw.svc.Reconfigure(ctx, cfg); err != nil {
		cw.logger.Warn("config reload rejected", "path", cw.path, "error", err)
		return
	}
	cw.logger.Info("configuration reloaded", "path", cw.path, "objective", cfg.Objective)
}
