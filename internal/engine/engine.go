// Package engine wires the self-observability and self-healing loop into
// a single explicitly constructed object. Create one per process with New,
// call Start to run the periodic tasks and Stop to tear them down.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/aggregator"
	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/health"
	"github.com/gosight/neuroloop/internal/patterns"
	"github.com/gosight/neuroloop/internal/recommend"
	"github.com/gosight/neuroloop/internal/scheduler"
	"github.com/gosight/neuroloop/internal/state"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const (
	sessionPatternWindow = 50
	behaviorWindow       = 30
	recentRecoveryCount  = 5
)

// Engine is the self-observability and self-healing loop
type Engine struct {
	cfg *config.Config
	now func() time.Time

	collector    *telemetry.Collector
	aggregator   *aggregator.Aggregator
	detector     *patterns.Detector
	predictor    *patterns.Predictor
	recommender  *recommend.Recommender
	monitor      *health.Monitor
	orchestrator *healing.Orchestrator
	fidelity     *healing.Fidelity
	refresh      *healing.Broadcaster
	store        state.Store

	aggregationTask *scheduler.Task
	healthTask      *scheduler.Task

	sessionTags atomic.Pointer[[]string]

	hooksMu     sync.RWMutex
	healthHooks []func(SystemHealth)

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the pipeline and registers the built-in strategies, rules and
// insight generators. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) *Engine {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		o.store = state.NewMemoryStore()
	}

	e := &Engine{
		cfg:      cfg,
		now:      o.now,
		store:    o.store,
		fidelity: &healing.Fidelity{},
		refresh:  &healing.Broadcaster{},
	}

	collectorOpts := []telemetry.Option{telemetry.WithClock(o.now)}
	if o.jitter != nil {
		collectorOpts = append(collectorOpts, telemetry.WithJitter(o.jitter))
	}
	if o.session != "" {
		collectorOpts = append(collectorOpts, telemetry.WithSessionID(o.session))
	}
	e.collector = telemetry.NewCollector(cfg.Telemetry, collectorOpts...)

	e.aggregator = aggregator.NewAggregator(e.collector, e.collector, cfg.Telemetry,
		aggregator.PolicyFromConfig(cfg.Aggregation), o.now)
	e.detector = patterns.NewDetector(o.now)
	e.predictor = patterns.NewPredictor(o.now)

	e.recommender = recommend.NewRecommender(cfg.Insights, e.collector, o.now, o.random)
	e.recommender.RegisterDefaults()

	e.monitor = health.NewMonitor(cfg.Health, e.collector, o.sampler, o.now)

	healingOpts := []healing.Option{
		healing.WithClock(o.now),
		healing.WithMaxRecoveryAttempts(cfg.Health.MaxRecoveryAttempts),
	}
	if o.reloader != nil {
		healingOpts = append(healingOpts, healing.WithReloader(o.reloader))
	}
	e.orchestrator = healing.NewOrchestrator(cfg.Healing, e.collector, e.monitor, healingOpts...)
	e.monitor.SetHealer(e.orchestrator)

	e.orchestrator.RegisterStrategy(healing.StrategyMemoryCleanup, healing.MemoryCleanup(e.collector))
	e.orchestrator.RegisterStrategy(healing.StrategyStateReset, healing.StateReset(e.store, cfg.Healing.PreservedStateKeys))
	e.orchestrator.RegisterStrategy(healing.StrategyPerformanceOptimization,
		healing.PerformanceOptimization(e.fidelity, cfg.Healing.PerformanceDegradeDuration))
	e.orchestrator.RegisterStrategy(healing.StrategyComponentRefresh, healing.ComponentRefresh(e.refresh, o.now))

	e.collector.OnCapture(e.onCapture)

	e.aggregationTask = scheduler.NewTask("aggregation", cfg.Aggregation.Interval, e.runAggregation)
	e.healthTask = scheduler.NewTask("health_check", cfg.Health.Interval, e.runHealthCheck)

	empty := []string{}
	e.sessionTags.Store(&empty)

	return e
}

func (e *Engine) onCapture(ev telemetry.Event) {
	e.aggregator.Recompute()
	if ev.Kind == telemetry.KindNavigation {
		e.predictor.Navigate(ev.Context.Route)
	}
}

// Start runs the aggregation and health-check tasks until Stop or ctx is
// cancelled
func (e *Engine) Start(ctx context.Context) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for _, task := range []*scheduler.Task{e.aggregationTask, e.healthTask} {
		task := task
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			task.Run(ctx)
		}()
	}

	log.Info().
		Str("session_id", e.collector.SessionID()).
		Dur("aggregation_interval", e.cfg.Aggregation.Interval).
		Dur("health_interval", e.cfg.Health.Interval).
		Msg("Neuroloop engine started")
}

// Stop halts the periodic tasks and waits for background heals
func (e *Engine) Stop() {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.orchestrator.Wait()
	e.fidelity.Restore()
	log.Info().Msg("Neuroloop engine stopped")
}

// TickAggregation runs one aggregation pass unless one is already running
func (e *Engine) TickAggregation(ctx context.Context) bool {
	return e.aggregationTask.TryRun(ctx)
}

// TickHealth runs one health-check pass unless one is already running
func (e *Engine) TickHealth(ctx context.Context) bool {
	return e.healthTask.TryRun(ctx)
}

func (e *Engine) runAggregation(_ context.Context) {
	e.collector.Cleanup()

	m := e.aggregator.Tick()
	if e.collector.Len() == 0 {
		return
	}

	e.detector.Record(m.Engagement, m.LearningEffectiveness)
	e.detector.Detect()

	tags := patterns.SessionPatterns(e.collector.Recent(sessionPatternWindow))
	if tags == nil {
		tags = []string{}
	}
	e.sessionTags.Store(&tags)

	e.predictor.AnalyzeBehavior(e.collector.Recent(behaviorWindow))
	e.predictor.UpdateAccuracy(e.recommender.Personalization().Score)

	e.recommender.Evaluate(e.snapshot(m))
}

func (e *Engine) snapshot(m aggregator.RollingMetrics) recommend.Snapshot {
	s := recommend.Snapshot{
		Metrics:      m,
		ReadingSpeed: recommend.ReadingSpeed(e.collector.Recent(sessionPatternWindow)),
		HourlyUsage:  e.detector.HourlyUsage(),
		SystemHealth: e.monitor.Snapshot().OverallScore,
		RouteHistory: e.predictor.History(),
		Now:          e.now(),
	}
	if p, ok := e.detector.Current(); ok {
		s.LearningStyle = &p
	}
	return s
}

func (e *Engine) runHealthCheck(ctx context.Context) {
	sys := e.monitor.Tick()
	e.orchestrator.AutoHeal(ctx, sys)
	if removed := e.orchestrator.Cleanup(); removed > 0 {
		log.Debug().Int("removed", removed).Msg("Expired recovery actions purged")
	}

	view := e.SystemHealth()
	e.hooksMu.RLock()
	hooks := e.healthHooks
	e.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(view)
	}
}
