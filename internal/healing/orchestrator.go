package healing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/health"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const maxHistory = 500

// Tracker is the component health bookkeeping the orchestrator drives
type Tracker interface {
	Component(name string) (health.ComponentHealth, bool)
	BeginRecovery(name string) bool
	CompleteRecovery(name string, success bool)
}

// Reloader restarts the whole process
type Reloader func()

// Orchestrator is a registry of healing strategies and the policy that
// runs them
type Orchestrator struct {
	cfg         config.HealingConfig
	maxAttempts int
	sink        telemetry.Sink
	tracker     Tracker
	reloader    Reloader
	now         func() time.Time
	baseCtx     context.Context

	autoHealing atomic.Bool

	mu         sync.RWMutex
	strategies map[string]Strategy
	history    []RecoveryAction

	hooksMu sync.RWMutex
	hooks   []func(RecoveryAction)

	wg sync.WaitGroup
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithReloader sets the process reload used by emergency recovery
func WithReloader(r Reloader) Option {
	return func(o *Orchestrator) { o.reloader = r }
}

// WithMaxRecoveryAttempts bounds automatic heal retries per component
func WithMaxRecoveryAttempts(n int) Option {
	return func(o *Orchestrator) { o.maxAttempts = n }
}

// WithContext sets the context background heals run under
func WithContext(ctx context.Context) Option {
	return func(o *Orchestrator) { o.baseCtx = ctx }
}

// NewOrchestrator creates a new healing orchestrator with no strategies
func NewOrchestrator(cfg config.HealingConfig, sink telemetry.Sink, tracker Tracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		maxAttempts: 5,
		sink:        sink,
		tracker:     tracker,
		now:         time.Now,
		baseCtx:     context.Background(),
		strategies:  make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.autoHealing.Store(cfg.AutoHealing())
	return o
}

// RegisterStrategy adds or replaces a named strategy
func (o *Orchestrator) RegisterStrategy(name string, s Strategy) {
	o.mu.Lock()
	o.strategies[name] = s
	o.mu.Unlock()
	log.Info().Str("strategy", name).Msg("Healing strategy registered")
}

// OnAction registers a receiver for every recorded recovery action
func (o *Orchestrator) OnAction(fn func(RecoveryAction)) {
	o.hooksMu.Lock()
	o.hooks = append(o.hooks, fn)
	o.hooksMu.Unlock()
}

// SetAutoHealing enables or disables automatic healing. Manual healing
// is unaffected.
func (o *Orchestrator) SetAutoHealing(enabled bool) {
	o.autoHealing.Store(enabled)
	log.Info().Bool("enabled", enabled).Msg("Auto-healing toggled")
}

// AutoHealing reports whether automatic healing is enabled
func (o *Orchestrator) AutoHealing() bool {
	return o.autoHealing.Load()
}

// ExecuteHealing runs one strategy against target. It never panics: an
// unknown strategy, an error or a panic all report false.
func (o *Orchestrator) ExecuteHealing(ctx context.Context, strategy, target string) bool {
	return o.execute(ctx, strategy, target, PriorityMedium, false)
}

func (o *Orchestrator) execute(ctx context.Context, name, target string, priority Priority, auto bool) bool {
	o.mu.RLock()
	s, ok := o.strategies[name]
	o.mu.RUnlock()
	if !ok {
		log.Warn().Err(ErrStrategyNotFound).Str("strategy", name).Str("target", target).Msg("Healing skipped")
		return false
	}

	start := o.now()
	success, err := runStrategy(ctx, s, target)
	elapsed := o.now().Sub(start)

	action := RecoveryAction{
		ID:          "recovery_" + uuid.NewString(),
		Strategy:    name,
		Target:      target,
		Description: fmt.Sprintf("%s on %s", name, target),
		Priority:    priority,
		AutoExecute: auto,
		ExecutedAt:  start,
		Duration:    elapsed,
		Success:     success,
	}
	if err != nil {
		action.Error = err.Error()
	}

	o.mu.Lock()
	o.history = append(o.history, action)
	if len(o.history) > maxHistory {
		o.history = o.history[len(o.history)-maxHistory:]
	}
	o.mu.Unlock()

	outcome := "failure"
	if success {
		outcome = "success"
	}
	instrument.HealingExecutions.WithLabelValues(name, outcome).Inc()
	instrument.HealingDuration.WithLabelValues(name).Observe(elapsed.Seconds())

	if success {
		log.Info().Str("strategy", name).Str("target", target).Dur("elapsed", elapsed).Msg("Healing strategy succeeded")
		if o.sink != nil {
			o.sink.Capture(telemetry.KindPerformance, map[string]interface{}{
				"type":       "healing_executed",
				"strategy":   name,
				"target":     target,
				"elapsed_ms": elapsed.Milliseconds(),
			}, telemetry.Context{ComponentName: "healing_orchestrator"})
		}
	} else {
		log.Error().Str("strategy", name).Str("target", target).Str("error", action.Error).Msg("Healing strategy failed")
	}

	o.hooksMu.RLock()
	hooks := o.hooks
	o.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(action)
	}

	return success
}

func runStrategy(ctx context.Context, s Strategy, target string) (success bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			success = false
			err = fmt.Errorf("strategy panicked: %v", r)
		}
	}()
	return s.Execute(ctx, target)
}

// HealComponent marks the component recovering and tries component_refresh
// then memory_cleanup, stopping at the first success
func (o *Orchestrator) HealComponent(ctx context.Context, name string) bool {
	if o.tracker == nil || !o.tracker.BeginRecovery(name) {
		log.Warn().Str("component", name).Msg("Heal requested for unknown component")
		return false
	}

	for _, strategy := range []string{StrategyComponentRefresh, StrategyMemoryCleanup} {
		if o.execute(ctx, strategy, name, PriorityHigh, true) {
			o.tracker.CompleteRecovery(name, true)
			return true
		}
	}

	o.tracker.CompleteRecovery(name, false)
	return false
}

// RequestComponentHealing heals a component in the background
func (o *Orchestrator) RequestComponentHealing(component string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.HealComponent(o.baseCtx, component)
	}()
}

// RequestStateReset runs state_reset against target in the background
func (o *Orchestrator) RequestStateReset(target string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(o.baseCtx, StrategyStateReset, target, PriorityCritical, true)
	}()
}

// Wait blocks until background heals have finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// AutoHeal dispatches each active issue to a matching strategy and runs a
// preventive optimization when the system is mildly degraded
func (o *Orchestrator) AutoHeal(ctx context.Context, sys health.SystemHealth) {
	if !o.AutoHealing() {
		return
	}

	for _, issue := range sys.ActiveIssues {
		component := strings.TrimSpace(strings.SplitN(issue, ":", 2)[0])
		switch {
		case strings.Contains(issue, "memory"):
			o.execute(ctx, StrategyMemoryCleanup, "system", PriorityHigh, true)
		case strings.Contains(issue, "performance"):
			o.execute(ctx, StrategyPerformanceOptimization, "system", PriorityMedium, true)
		case strings.Contains(issue, string(health.StatusCritical)):
			o.execute(ctx, StrategyComponentRefresh, component, PriorityHigh, true)
		case strings.Contains(issue, string(health.StatusRecovering)):
			o.retryHeal(ctx, component)
		}
	}

	if sys.OverallScore >= 60 && sys.OverallScore < 80 {
		o.execute(ctx, StrategyPerformanceOptimization, "preventive", PriorityLow, true)
	}
}

func (o *Orchestrator) retryHeal(ctx context.Context, component string) {
	if o.tracker == nil {
		return
	}
	c, ok := o.tracker.Component(component)
	if !ok || c.RecoveryAttempts >= o.maxAttempts {
		return
	}
	o.HealComponent(ctx, component)
}

// EmergencyRecovery resets client state and, on success, reloads the
// process after a grace delay. It is never triggered automatically.
func (o *Orchestrator) EmergencyRecovery(ctx context.Context) bool {
	log.Warn().Msg("Emergency recovery requested")
	if !o.execute(ctx, StrategyStateReset, "emergency", PriorityCritical, false) {
		return false
	}
	if o.reloader != nil {
		log.Warn().Dur("delay", o.cfg.EmergencyReloadDelay).Msg("Process reload scheduled")
		time.AfterFunc(o.cfg.EmergencyReloadDelay, o.reloader)
	}
	return true
}

// History returns the last n recovery actions, oldest first. n <= 0
// returns all of them.
func (o *Orchestrator) History(n int) []RecoveryAction {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if n <= 0 || n > len(o.history) {
		n = len(o.history)
	}
	out := make([]RecoveryAction, n)
	copy(out, o.history[len(o.history)-n:])
	return out
}

// Cleanup drops recovery actions older than the retention window
func (o *Orchestrator) Cleanup() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	cutoff := o.now().Add(-o.cfg.HistoryRetention)
	kept := o.history[:0]
	for _, a := range o.history {
		if a.ExecutedAt.After(cutoff) {
			kept = append(kept, a)
		}
	}
	removed := len(o.history) - len(kept)
	o.history = kept
	return removed
}
