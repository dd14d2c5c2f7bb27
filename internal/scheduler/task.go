// Package scheduler runs periodic tasks that never overlap with themselves.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/instrument"
)

// Task is a named periodic job with a single-outstanding-run guard
type Task struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)
	running  atomic.Bool
	runs     atomic.Int64
}

// NewTask creates a new periodic task
func NewTask(name string, interval time.Duration, fn func(ctx context.Context)) *Task {
	return &Task{name: name, interval: interval, fn: fn}
}

// Name returns the task name
func (t *Task) Name() string { return t.name }

// Runs returns how many times the task body has completed
func (t *Task) Runs() int64 { return t.runs.Load() }

// TryRun executes the task body unless a previous run is still in
// progress, in which case the tick is skipped and false is returned
func (t *Task) TryRun(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		instrument.TaskSkipped.WithLabelValues(t.name).Inc()
		log.Debug().Str("task", t.name).Msg("Previous run still in progress, tick skipped")
		return false
	}
	defer t.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("task", t.name).Interface("panic", r).Msg("Periodic task panicked")
		}
	}()

	t.fn(ctx)
	t.runs.Add(1)
	return true
}

// Run ticks the task at its interval until ctx is cancelled
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	log.Info().Str("task", t.name).Dur("interval", t.interval).Msg("Periodic task started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("task", t.name).Msg("Periodic task stopped")
			return
		case <-ticker.C:
			t.TryRun(ctx)
		}
	}
}
