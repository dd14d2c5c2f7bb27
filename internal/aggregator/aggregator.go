package aggregator

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// RollingMetrics is a snapshot of the six 0-100 session scores
type RollingMetrics struct {
	Engagement                int `json:"real_time_engagement"`
	SessionQuality            int `json:"session_quality"`
	LearningEffectiveness     int `json:"learning_effectiveness"`
	NeuralCoherence           int `json:"neural_coherence"`
	SatisfactionIndex         int `json:"user_satisfaction_index"`
	AdaptiveIntelligenceScore int `json:"adaptive_intelligence_score"`
}

const (
	lowEngagementThreshold = 30
	lowCoherenceThreshold  = 40
)

// Source is the event window the aggregator reads from
type Source interface {
	Recent(n int) []telemetry.Event
	SessionStart() time.Time
}

// Aggregator derives rolling metrics from the recent event window and
// publishes each new snapshot to subscribers
type Aggregator struct {
	source Source
	sink   telemetry.Sink
	policy Policy
	window int
	now    func() time.Time

	current atomic.Pointer[RollingMetrics]

	// mu serializes recomputation
	mu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]func(RollingMetrics)
	nextSubID   int

	qualityMu    sync.Mutex
	qualityScore float64
}

// NewAggregator creates a new metrics aggregator
func NewAggregator(source Source, sink telemetry.Sink, cfg config.TelemetryConfig, policy Policy, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	window := cfg.Window
	if window <= 0 {
		window = 20
	}
	a := &Aggregator{
		source:       source,
		sink:         sink,
		policy:       policy,
		window:       window,
		now:          now,
		subscribers:  make(map[int]func(RollingMetrics)),
		qualityScore: 100,
	}
	a.current.Store(&RollingMetrics{})
	return a
}

// Subscribe registers a callback for every new snapshot and returns a
// function that removes it
func (a *Aggregator) Subscribe(fn func(RollingMetrics)) func() {
	a.subMu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subscribers[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subscribers, id)
		a.subMu.Unlock()
	}
}

// Current returns the latest snapshot
func (a *Aggregator) Current() RollingMetrics {
	return *a.current.Load()
}

// Recompute derives a new snapshot from the event window, swaps it in and
// notifies subscribers outside any lock. An empty window keeps the last
// snapshot.
func (a *Aggregator) Recompute() RollingMetrics {
	m, _ := a.recompute()
	return m
}

func (a *Aggregator) recompute() (RollingMetrics, bool) {
	a.mu.Lock()
	events := a.source.Recent(a.window)
	if len(events) == 0 {
		a.mu.Unlock()
		return a.Current(), false
	}
	age := a.now().Sub(a.source.SessionStart())
	m := a.policy.Compute(events, age)
	a.current.Store(&m)
	a.mu.Unlock()

	publishGauges(m)

	a.subMu.RLock()
	subs := make([]func(RollingMetrics), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	a.subMu.RUnlock()

	for _, fn := range subs {
		fn(m)
	}
	return m, true
}

// Tick runs one aggregation pass: recompute, feed anomalies back as
// performance events and drift the session quality score. Anomalies are
// only judged on a non-empty window.
func (a *Aggregator) Tick() RollingMetrics {
	m, fresh := a.recompute()
	if fresh {
		a.detectAnomalies(m)
	}

	a.qualityMu.Lock()
	if m.SessionQuality < 50 {
		a.qualityScore = math.Max(20, a.qualityScore-1)
	} else {
		a.qualityScore = math.Min(100, a.qualityScore+0.5)
	}
	a.qualityMu.Unlock()

	return a.Current()
}

func (a *Aggregator) detectAnomalies(m RollingMetrics) {
	if m.Engagement < lowEngagementThreshold {
		instrument.Anomalies.WithLabelValues("low_engagement").Inc()
		log.Info().Int("engagement", m.Engagement).Msg("Low engagement anomaly detected")
		a.sink.Capture(telemetry.KindPerformance, map[string]interface{}{
			"anomaly":        "low_engagement",
			"value":          m.Engagement,
			"recommendation": "enhance_interaction",
		}, telemetry.Context{})
	}

	if m.NeuralCoherence < lowCoherenceThreshold {
		instrument.Anomalies.WithLabelValues("neural_inconsistency").Inc()
		log.Info().Int("neural_coherence", m.NeuralCoherence).Msg("Neural coherence anomaly detected")
		a.sink.Capture(telemetry.KindPerformance, map[string]interface{}{
			"anomaly":        "neural_inconsistency",
			"value":          m.NeuralCoherence,
			"recommendation": "stabilize_experience",
		}, telemetry.Context{})
	}
}

// QualityScore returns the slow-moving session quality score
func (a *Aggregator) QualityScore() float64 {
	a.qualityMu.Lock()
	defer a.qualityMu.Unlock()
	return a.qualityScore
}

func publishGauges(m RollingMetrics) {
	instrument.RollingMetric.WithLabelValues("engagement").Set(float64(m.Engagement))
	instrument.RollingMetric.WithLabelValues("session_quality").Set(float64(m.SessionQuality))
	instrument.RollingMetric.WithLabelValues("learning_effectiveness").Set(float64(m.LearningEffectiveness))
	instrument.RollingMetric.WithLabelValues("neural_coherence").Set(float64(m.NeuralCoherence))
	instrument.RollingMetric.WithLabelValues("satisfaction_index").Set(float64(m.SatisfactionIndex))
	instrument.RollingMetric.WithLabelValues("adaptive_intelligence_score").Set(float64(m.AdaptiveIntelligenceScore))
}
