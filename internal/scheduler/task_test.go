package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_SkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	task := NewTask("slow", time.Hour, func(context.Context) {
		close(started)
		<-release
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.True(t, task.TryRun(context.Background()))
	}()

	<-started
	assert.False(t, task.TryRun(context.Background()))
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), task.Runs())
}

func TestTask_RecoversPanics(t *testing.T) {
	task := NewTask("boom", time.Hour, func(context.Context) { panic("boom") })
	assert.NotPanics(t, func() { task.TryRun(context.Background()) })

	// The guard is released after a panic.
	var ran atomic.Bool
	task.fn = func(context.Context) { ran.Store(true) }
	assert.True(t, task.TryRun(context.Background()))
	assert.True(t, ran.Load())
}

func TestTask_RunUntilCancelled(t *testing.T) {
	var n atomic.Int32
	task := NewTask("tick", 5*time.Millisecond, func(context.Context) { n.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		task.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
