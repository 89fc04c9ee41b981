// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trainer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pass is anything that can run one training pass. *Trainer satisfies
// it; so does a facade that swaps trainers at runtime.
type Pass interface {
	Train(ctx context.Context) (Summary, error)
}

// Runner schedules periodic training passes.
//
// Description:
//
//	Ticker-driven background loop with explicit Start/Stop. A pass that
//	fails is logged and the schedule continues; transient store errors
//	must not kill maintenance for the process lifetime.
//
// Thread Safety: Start and Stop are safe to call from any goroutine.
// Start is idempotent while running; Stop blocks until the loop exits.
type Runner struct {
	pass     Pass
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewRunner creates a runner for the training pass.
//
// Inputs:
//   - pass: The pass to drive. Must not be nil.
//   - interval: Time between passes. Must be positive.
//   - timeout: Per-pass deadline. Non-positive means no deadline.
func NewRunner(pass Pass, interval, timeout time.Duration, logger *slog.Logger) (*Runner, error) {
	if pass == nil {
		return nil, errors.New("pass must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{pass: pass, interval: interval, timeout: timeout, logger: logger}, nil
}

// Start launches the background loop. Calling Start on a running
// runner is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		return
	}

	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(r.stop, r.done)

	r.logger.Info("trainer runner started", "interval", r.interval)
}

// Stop halts the loop and waits for an in-flight pass to finish.
// Stopping a stopped runner is a no-op.
func (r *Runner) Stop() {
	r.mu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	r.logger.Info("trainer runner stopped")
}

func (r *Runner) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Runner) runOnce() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if _, err := r.pass.Train(ctx); err != nil {
		r.logger.Error("scheduled training pass failed", "error", err)
	}
}
