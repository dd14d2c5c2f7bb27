package healing

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/state"
)

// Purger drops cached data on request
type Purger interface {
	Purge()
}

// MemoryCleanup returns a strategy that purges caches and hints the
// runtime to release memory
func MemoryCleanup(purgers ...Purger) Strategy {
	return StrategyFunc(func(_ context.Context, target string) (bool, error) {
		for _, p := range purgers {
			p.Purge()
		}

		var before runtime.MemStats
		runtime.ReadMemStats(&before)
		runtime.GC()
		debug.FreeOSMemory()
		var after runtime.MemStats
		runtime.ReadMemStats(&after)

		log.Debug().
			Str("target", target).
			Uint64("heap_before", before.HeapAlloc).
			Uint64("heap_after", after.HeapAlloc).
			Msg("Memory cleanup finished")
		return true, nil
	})
}

// StateReset returns a strategy that deletes every client state key not
// matching one of the preserved key names
func StateReset(store state.Store, preserved []string) Strategy {
	return StrategyFunc(func(ctx context.Context, target string) (bool, error) {
		keys, err := store.Keys(ctx)
		if err != nil {
			return false, fmt.Errorf("list state keys: %w", err)
		}

		cleared := 0
		for _, key := range keys {
			if isPreserved(key, preserved) {
				continue
			}
			if err := store.Delete(ctx, key); err != nil {
				return false, fmt.Errorf("delete state key %s: %w", key, err)
			}
			cleared++
		}

		log.Info().Str("target", target).Int("cleared", cleared).Msg("Client state reset")
		return true, nil
	})
}

func isPreserved(key string, preserved []string) bool {
	for _, p := range preserved {
		if strings.Contains(key, p) {
			return true
		}
	}
	return false
}

// Fidelity is the animation fidelity switch the performance strategy
// lowers temporarily
type Fidelity struct {
	mu       sync.Mutex
	reduced  bool
	restorer *time.Timer
}

// Reduced reports whether animations are currently degraded
func (f *Fidelity) Reduced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reduced
}

// Degrade lowers fidelity for d, extending any degrade already running
func (f *Fidelity) Degrade(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reduced = true
	if f.restorer != nil {
		f.restorer.Stop()
	}
	f.restorer = time.AfterFunc(d, f.Restore)
}

// Restore returns fidelity to normal
func (f *Fidelity) Restore() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.restorer != nil {
		f.restorer.Stop()
		f.restorer = nil
	}
	if f.reduced {
		f.reduced = false
		log.Debug().Msg("Animation fidelity restored")
	}
}

// PerformanceOptimization returns a strategy that degrades animation
// fidelity for the given duration
func PerformanceOptimization(f *Fidelity, d time.Duration) Strategy {
	return StrategyFunc(func(_ context.Context, target string) (bool, error) {
		f.Degrade(d)
		log.Info().Str("target", target).Dur("duration", d).Msg("Animation fidelity reduced")
		return true, nil
	})
}

// RefreshSignal tells UI layers to re-render a component
type RefreshSignal struct {
	Component string    `json:"component"`
	At        time.Time `json:"at"`
}

// Broadcaster fans refresh signals out to subscribers
type Broadcaster struct {
	mu   sync.RWMutex
	subs []func(RefreshSignal)
}

// Subscribe registers a refresh receiver
func (b *Broadcaster) Subscribe(fn func(RefreshSignal)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Broadcast delivers sig to every subscriber
func (b *Broadcaster) Broadcast(sig RefreshSignal) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(sig)
	}
}

// ComponentRefresh returns a strategy that broadcasts a refresh signal
func ComponentRefresh(b *Broadcaster, now func() time.Time) Strategy {
	return StrategyFunc(func(_ context.Context, target string) (bool, error) {
		b.Broadcast(RefreshSignal{Component: target, At: now()})
		return true, nil
	})
}
