// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/otelhook/internal/log"
)

// Retention defaults.
const (
	DefaultRetentionMaxAge   = 7 * 24 * time.Hour
	DefaultRetentionInterval = time.Hour
)

// RetentionConfig bounds how long locally stored spans are kept.
type RetentionConfig struct {
	MaxAge   time.Duration `yaml:"max_age"`
	Interval time.Duration `yaml:"interval"`
}

// Pruner deletes stored spans that ended before a cutoff.
type Pruner interface {
	DeleteSpansOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// RetentionManager prunes a span store on a fixed interval.
type RetentionManager struct {
	store    Pruner
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewRetentionManager returns a stopped manager. Zero durations take the
// defaults.
func NewRetentionManager(store Pruner, cfg RetentionConfig, logger *slog.Logger) *RetentionManager {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultRetentionMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRetentionInterval
	}
	return &RetentionManager{
		store:    store,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		logger:   log.WithComponent(log.OrDefault(logger), "retention"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a cleanup pass immediately and then on every interval, in a
// background goroutine. Calling Start twice has no effect.
func (r *RetentionManager) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run()
	})
}

// Stop ends the loop and waits for an in-progress pass. It is safe to call
// without Start and more than once; a Start after Stop has no effect.
func (r *RetentionManager) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.startOnce.Do(func() {})
	if r.started.Load() {
		<-r.doneCh
	}
}

func (r *RetentionManager) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cleanup()
	for {
		select {
		case <-ticker.C:
			r.cleanup()
		case <-r.stopCh:
			r.logger.Debug("retention manager stopping")
			return
		}
	}
}

func (r *RetentionManager) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := r.prune(ctx); err != nil {
		r.logger.Warn("span retention pass failed", log.Error(err))
	}
}

// CleanupNow runs a single pass synchronously and returns the number of
// spans deleted.
func (r *RetentionManager) CleanupNow(ctx context.Context) (int64, error) {
	n, err := r.prune(ctx)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return n, nil
}

func (r *RetentionManager) prune(ctx context.Context) (int64, error) {
	before := r.now().Add(-r.maxAge)
	deleted, err := r.store.DeleteSpansOlderThan(ctx, before)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.logger.Info("pruned stored spans",
			slog.Int64("count", deleted),
			slog.String("before", before.Format(time.RFC3339)),
		)
	}
	return deleted, nil
}
