// Package watcher runs the polling cycle over every BlackHole: scan,
// drive the queue, and snapshot the catalog once things settle.
package watcher

import (
	"context"
	"time"

	"wbh-go/internal/fs"
	"wbh-go/internal/queue"
	"wbh-go/internal/scanner"
	"wbh-go/internal/wbh"
)

// Pipeline is one BlackHole's scanner and queue.
type Pipeline struct {
	Hole    *wbh.BlackHole
	Scanner *scanner.Scanner
	Queue   *queue.Queue
}

// BackupFunc snapshots the catalog.
type BackupFunc func(ctx context.Context) error

// Watcher drives the pipelines one after another, then sleeps.
type Watcher struct {
	pipelines []*Pipeline
	interval  time.Duration
	tempDir   string
	backup    BackupFunc
	logger    wbh.Logger

	needBackup bool
}

// New creates a Watcher polling every interval.
func New(pipelines []*Pipeline, interval time.Duration, logger wbh.Logger) *Watcher {
	if logger == nil {
		logger = wbh.NewNopLogger()
	}
	return &Watcher{
		pipelines: pipelines,
		interval:  interval,
		logger:    logger,
	}
}

// WithTempDir sets the directory swept for orphaned chunk files on start.
func (w *Watcher) WithTempDir(dir string) *Watcher {
	w.tempDir = dir
	return w
}

// WithBackup sets the catalog snapshot run after an idle cycle that
// follows finished uploads.
func (w *Watcher) WithBackup(fn BackupFunc) *Watcher {
	w.backup = fn
	return w
}

// Run cycles until ctx is cancelled. Cancellation is only observed
// between items and during the sleep, so an interrupted run leaves every
// queue in a saved state.
func (w *Watcher) Run(ctx context.Context) error {
	if w.tempDir != "" {
		n, err := fs.SweepTempDir(w.tempDir)
		if err != nil {
			w.logger.Warn("temp sweep failed", "dir", w.tempDir, "error", err)
		} else if n > 0 {
			w.logger.Info("removed orphaned temp files", "dir", w.tempDir, "count", n)
		}
	}
	w.logger.Info("watcher starting", "blackholes", len(w.pipelines), "interval", w.interval)

	for {
		w.Cycle(ctx)

		select {
		case <-ctx.Done():
			w.logger.Info("watcher shutting down")
			return ctx.Err()
		case <-time.After(w.interval):
		}
	}
}

// Cycle runs every pipeline once and reports whether nothing happened.
// A cycle whose scan saw an entry still settling is not idle, so the
// catalog backup waits until every root has quieted down.
func (w *Watcher) Cycle(ctx context.Context) bool {
	idle := true
	for _, p := range w.pipelines {
		if ctx.Err() != nil {
			return false
		}
		scan, err := p.Scanner.Poll(p.Queue)
		if err != nil {
			w.logger.Error("scan failed", "blackhole", p.Hole.Name, "error", err)
		}
		res := p.Queue.Drive(ctx)
		if res.Finished > 0 {
			w.needBackup = true
		}
		if !scan.Quiet() || !res.Idle {
			idle = false
		}
	}

	if idle && w.needBackup && w.backup != nil && ctx.Err() == nil {
		if err := w.backup(ctx); err != nil {
			w.logger.Error("catalog backup failed", "error", err)
		} else {
			w.needBackup = false
		}
	}
	return idle
}

// NeedsBackup reports whether items finished since the last snapshot.
func (w *Watcher) NeedsBackup() bool { return w.needBackup }
