package engine

import (
	"context"
	"fmt"

	"github.com/gosight/neuroloop/internal/aggregator"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/health"
	"github.com/gosight/neuroloop/internal/patterns"
	"github.com/gosight/neuroloop/internal/recommend"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// SystemHealth is the health view handed to API callers
type SystemHealth struct {
	health.SystemHealth
	RecentRecoveryActions []healing.RecoveryAction `json:"recent_recovery_actions"`
	AutoHealingEnabled    bool                     `json:"auto_healing_enabled"`
}

// SessionStats extends the collector counters with session-level analysis
type SessionStats struct {
	telemetry.SessionStats
	QualityScore float64  `json:"quality_score"`
	Patterns     []string `json:"patterns"`
}

// Capture records a telemetry event
func (e *Engine) Capture(kind telemetry.Kind, payload map[string]interface{}, overrides telemetry.Context) telemetry.Event {
	return e.collector.Capture(kind, payload, overrides)
}

// ReportComponentError records an error against a named component
func (e *Engine) ReportComponentError(name string, err error) {
	e.monitor.ReportError(name, err)
}

// ReportComponentPerformance records render time (ms) and memory (MB)
func (e *Engine) ReportComponentPerformance(name string, renderTime, memoryUsage float64) {
	e.monitor.ReportPerformance(name, renderTime, memoryUsage)
}

// RegisterHealingStrategy adds or replaces a healing strategy
func (e *Engine) RegisterHealingStrategy(name string, s healing.Strategy) {
	e.orchestrator.RegisterStrategy(name, s)
}

// RegisterAdaptationRule adds or replaces an adaptation rule
func (e *Engine) RegisterAdaptationRule(name string, rule recommend.AdaptationRule) {
	e.recommender.RegisterRule(name, rule)
}

// RegisterInsightGenerator adds or replaces an insight generator
func (e *Engine) RegisterInsightGenerator(name string, g recommend.InsightGenerator) {
	e.recommender.RegisterGenerator(name, g)
}

// ToggleAutoHealing enables or disables automatic healing
func (e *Engine) ToggleAutoHealing(enabled bool) {
	e.orchestrator.SetAutoHealing(enabled)
}

// ForceHealthCheck runs a health-check pass now and returns the result
func (e *Engine) ForceHealthCheck(ctx context.Context) SystemHealth {
	e.healthTask.TryRun(ctx)
	return e.SystemHealth()
}

// ExecuteHealing runs one strategy by name
func (e *Engine) ExecuteHealing(ctx context.Context, strategy, target string) bool {
	return e.orchestrator.ExecuteHealing(ctx, strategy, target)
}

// EmergencyRecovery resets client state and schedules a process reload
func (e *Engine) EmergencyRecovery(ctx context.Context) bool {
	return e.orchestrator.EmergencyRecovery(ctx)
}

// HandleGlobalError funnels an uncaught error into telemetry
func (e *Engine) HandleGlobalError(source string, err error) {
	e.monitor.HandleGlobalError(source, err)
}

// Recover intercepts a panic. Use it deferred: defer e.Recover("source").
func (e *Engine) Recover(source string) {
	if r := recover(); r != nil {
		e.monitor.HandleGlobalError(source, fmt.Errorf("panic: %v", r))
	}
}

// Go runs fn in a goroutine whose panics are intercepted
func (e *Engine) Go(source string, fn func()) {
	e.monitor.Go(source, fn)
}

// CurrentMetrics returns the latest rolling metrics
func (e *Engine) CurrentMetrics() aggregator.RollingMetrics {
	return e.aggregator.Current()
}

// RecentEvents returns a copy of the last n events
func (e *Engine) RecentEvents(n int) []telemetry.Event {
	return e.collector.Recent(n)
}

// SessionStats returns session counters and analysis
func (e *Engine) SessionStats() SessionStats {
	tags := *e.sessionTags.Load()
	return SessionStats{
		SessionStats: e.collector.Stats(),
		QualityScore: e.aggregator.QualityScore(),
		Patterns:     append([]string{}, tags...),
	}
}

// SystemHealth returns the latest health snapshot with recent recoveries
func (e *Engine) SystemHealth() SystemHealth {
	return SystemHealth{
		SystemHealth:          e.monitor.Snapshot(),
		RecentRecoveryActions: e.orchestrator.History(recentRecoveryCount),
		AutoHealingEnabled:    e.orchestrator.AutoHealing(),
	}
}

// RecoveryHistory returns the last n recovery actions
func (e *Engine) RecoveryHistory(n int) []healing.RecoveryAction {
	return e.orchestrator.History(n)
}

// CurrentInsights returns the most recent insights
func (e *Engine) CurrentInsights() []recommend.Insight {
	return e.recommender.CurrentInsights()
}

// LearningStyle returns the adopted learning pattern, if any
func (e *Engine) LearningStyle() (patterns.LearningPattern, bool) {
	return e.detector.Current()
}

// ActiveAdaptations returns every proposed and applied adaptation
func (e *Engine) ActiveAdaptations() []recommend.UIAdaptation {
	return e.recommender.ActiveAdaptations()
}

// ApplyAdaptation applies an advisory adaptation by id
func (e *Engine) ApplyAdaptation(id string) (recommend.UIAdaptation, bool) {
	return e.recommender.Apply(id)
}

// CurrentPrediction returns the latest intent prediction, if any
func (e *Engine) CurrentPrediction() (patterns.Prediction, bool) {
	return e.predictor.Current()
}

// ReportPredictionOutcome adjusts prediction accuracy and returns it
func (e *Engine) ReportPredictionOutcome(correct bool) float64 {
	return e.predictor.ReportOutcome(correct)
}

// PredictionAccuracy returns the current prediction accuracy estimate
func (e *Engine) PredictionAccuracy() float64 {
	return e.predictor.Accuracy()
}

// Recommendations returns the adaptive recommendations
func (e *Engine) Recommendations() []recommend.Recommendation {
	return e.recommender.Recommendations()
}

// Personalization returns the personalization score
func (e *Engine) Personalization() recommend.Personalization {
	return e.recommender.Personalization()
}

// AnimationsReduced reports whether performance optimization is active
func (e *Engine) AnimationsReduced() bool {
	return e.fidelity.Reduced()
}

// SessionID returns the session id stamped on captured events
func (e *Engine) SessionID() string {
	return e.collector.SessionID()
}

// Subscribe delivers each new metrics snapshot to fn until the returned
// function is called
func (e *Engine) Subscribe(fn func(aggregator.RollingMetrics)) func() {
	return e.aggregator.Subscribe(fn)
}

// OnEvent registers a receiver for every captured event
func (e *Engine) OnEvent(fn func(telemetry.Event)) {
	e.collector.OnCapture(fn)
}

// OnAction registers a receiver for every recovery action
func (e *Engine) OnAction(fn func(healing.RecoveryAction)) {
	e.orchestrator.OnAction(fn)
}

// OnInsight registers a receiver for new insights
func (e *Engine) OnInsight(fn func(recommend.Insight)) {
	e.recommender.OnInsight(fn)
}

// OnRefresh registers a receiver for component refresh signals
func (e *Engine) OnRefresh(fn func(healing.RefreshSignal)) {
	e.refresh.Subscribe(fn)
}

// OnPreload registers a receiver for speculative preload hints
func (e *Engine) OnPreload(fn func(patterns.PreloadHint)) {
	e.predictor.OnPreload(fn)
}

// OnHealth registers a receiver called after every health check
func (e *Engine) OnHealth(fn func(SystemHealth)) {
	e.hooksMu.Lock()
	e.healthHooks = append(e.healthHooks, fn)
	e.hooksMu.Unlock()
}
