package recommend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/neuroloop/internal/aggregator"
	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/patterns"
	"github.com/gosight/neuroloop/internal/telemetry"
)

type captured struct {
	kind    telemetry.Kind
	payload map[string]interface{}
}

type recordingSink struct {
	events []captured
}

func (s *recordingSink) Capture(kind telemetry.Kind, payload map[string]interface{}, _ telemetry.Context) telemetry.Event {
	s.events = append(s.events, captured{kind, payload})
	return telemetry.Event{Kind: kind, Payload: payload}
}

var t0 = time.Date(2025, 8, 22, 10, 0, 0, 0, time.UTC)

func newRecommender(t *testing.T) (*Recommender, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	r := NewRecommender(config.Default().Insights, sink, func() time.Time { return t0 }, func() float64 { return 0.5 })
	return r, sink
}

func healthy() Snapshot {
	return Snapshot{
		Metrics: aggregator.RollingMetrics{
			Engagement:                80,
			SessionQuality:            90,
			LearningEffectiveness:     50,
			NeuralCoherence:           90,
			SatisfactionIndex:         80,
			AdaptiveIntelligenceScore: 70,
		},
		ReadingSpeed: 250,
		SystemHealth: 100,
		Now:          t0,
	}
}

func TestRecommender_DeduplicatesAcrossTicks(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterRule("low_engagement", LowEngagementRule)

	s := healthy()
	s.Metrics.Engagement = 20
	r.Evaluate(s)
	s.Now = s.Now.Add(5 * time.Second)
	r.Evaluate(s)

	adaptations := r.ActiveAdaptations()
	require.Len(t, adaptations, 2)

	seen := make(map[adaptationKey]int)
	for _, a := range adaptations {
		seen[a.key()]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "%v", k)
	}
}

func TestRecommender_AutoAppliesOnlySafeKinds(t *testing.T) {
	r, sink := newRecommender(t)
	r.RegisterDefaults()

	s := healthy()
	s.Metrics.Engagement = 20
	s.ReadingSpeed = 150
	s.LearningStyle = &patterns.LearningPattern{Type: patterns.PatternVisual, Confidence: 0.82}
	r.Evaluate(s)

	adaptations := r.ActiveAdaptations()
	require.Len(t, adaptations, 6)

	applied := 0
	for _, a := range adaptations {
		if a.Applied {
			applied++
			assert.True(t, a.Kind.Safe(), "%s/%s", a.ElementType, a.Kind)
			assert.InDelta(t, 0.85, a.Effectiveness, 1e-9)
			require.NotNil(t, a.AppliedAt)
		}
	}
	assert.Equal(t, 2, applied)

	uiEvents := 0
	for _, e := range sink.events {
		if e.payload["type"] == "ui_adaptation" {
			uiEvents++
		}
	}
	assert.Equal(t, 2, uiEvents)
}

func TestRecommender_AutoApplyBoundedPerTick(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterRule("many", RuleFunc(func(Snapshot) []UIAdaptation {
		return []UIAdaptation{
			{ElementType: "a", Kind: KindColor},
			{ElementType: "b", Kind: KindColor},
			{ElementType: "c", Kind: KindSize},
		}
	}))

	r.Evaluate(healthy())
	assert.Equal(t, 2, countApplied(r.ActiveAdaptations()))

	r.Evaluate(healthy())
	assert.Equal(t, 3, countApplied(r.ActiveAdaptations()))
}

func countApplied(as []UIAdaptation) int {
	n := 0
	for _, a := range as {
		if a.Applied {
			n++
		}
	}
	return n
}

func TestRecommender_ApplyAdvisory(t *testing.T) {
	r, sink := newRecommender(t)
	r.RegisterRule("visual_learner", VisualLearnerRule)

	s := healthy()
	s.LearningStyle = &patterns.LearningPattern{Type: patterns.PatternVisual, Confidence: 0.82}
	r.Evaluate(s)

	adaptations := r.ActiveAdaptations()
	require.Len(t, adaptations, 2)
	assert.Zero(t, countApplied(adaptations))

	got, ok := r.Apply(adaptations[0].ID)
	require.True(t, ok)
	assert.True(t, got.Applied)
	assert.Len(t, sink.events, 1)

	_, ok = r.Apply("missing")
	assert.False(t, ok)
}

func TestRecommender_InsightDedupAndRetention(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterDefaults()

	var delivered []Insight
	r.OnInsight(func(in Insight) { delivered = append(delivered, in) })

	s := healthy()
	s.Metrics.SessionQuality = 40
	r.Evaluate(s)
	require.Len(t, r.CurrentInsights(), 1)
	assert.Equal(t, InsightPerformance, r.CurrentInsights()[0].Kind)

	// Same kind inside the dedup window is suppressed.
	s.Now = t0.Add(4 * time.Minute)
	r.Evaluate(s)
	assert.Len(t, r.CurrentInsights(), 1)

	s.Now = t0.Add(6 * time.Minute)
	r.Evaluate(s)
	assert.Len(t, r.CurrentInsights(), 2)
	assert.Len(t, delivered, 2)

	// Everything expires after the retention window.
	s.Metrics.SessionQuality = 90
	s.Now = t0.Add(25 * time.Hour)
	r.Evaluate(s)
	assert.Empty(t, r.CurrentInsights())
}

func TestRecommender_CurrentInsightsCapped(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterDefaults()

	s := healthy()
	s.Metrics.SessionQuality = 40
	for i := 0; i < 15; i++ {
		s.Now = t0.Add(time.Duration(i) * 6 * time.Minute)
		r.Evaluate(s)
	}
	assert.Len(t, r.CurrentInsights(), 10)
}

func TestGenerators(t *testing.T) {
	s := healthy()
	s.Metrics.LearningEffectiveness = 90
	s.Metrics.AdaptiveIntelligenceScore = 90
	s.SystemHealth = 70
	s.HourlyUsage[t0.Hour()] = 31

	assert.Len(t, PerformanceInsights.Generate(s), 1)
	assert.Equal(t, InsightLearningOptimization, PerformanceInsights.Generate(s)[0].Kind)
	assert.Equal(t, InsightBehaviorPattern, BehaviorPatterns.Generate(s)[0].Kind)
	assert.Equal(t, ImpactHigh, SmartRecommendations.Generate(s)[0].Impact)
	assert.Len(t, AdaptiveIntelligence.Generate(s), 1)

	assert.Empty(t, BehaviorPatterns.Generate(healthy()))
	assert.Empty(t, SmartRecommendations.Generate(healthy()))
}

func TestRecommender_Recommendations(t *testing.T) {
	r, _ := newRecommender(t)

	s := healthy()
	s.Metrics.Engagement = 40
	s.Metrics.LearningEffectiveness = 80
	s.Metrics.NeuralCoherence = 50
	s.RouteHistory = []string{"/a", "/b", "/a", "/b", "/a", "/b", "/a", "/b", "/a", "/b", "/a"}
	r.Evaluate(s)

	recs := r.Recommendations()
	require.Len(t, recs, 4)
	actions := make([]string, len(recs))
	for i, rec := range recs {
		actions[i] = rec.Action
	}
	// high before medium before low, higher confidence first within a priority
	assert.Equal(t, []string{"stabilize_interface", "enhance_interactivity", "suggest_advanced_content", "suggest_exploration"}, actions)
	assert.True(t, recs[0].AutoApply)

	r.Evaluate(healthy())
	assert.Empty(t, r.Recommendations())
}

func TestRecommender_Personalization(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterDefaults()

	s := healthy()
	s.Metrics.Engagement = 20
	s.Metrics.SessionQuality = 40
	s.LearningStyle = &patterns.LearningPattern{Type: patterns.PatternKinesthetic, Confidence: 0.75}
	r.Evaluate(s)

	p := r.Personalization()
	// 0.75*30 + 1*8 + 1*2 + 0.85*10
	assert.InDelta(t, 41.0, p.Score, 1e-9)
	assert.InDelta(t, 4.1, p.OptimizationLevel, 1e-9)
	assert.Equal(t, 1, p.AppliedAdaptations)
	assert.Equal(t, t0, p.LastAdaptation)
}

func TestRecommender_PanickingRuleIsContained(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterRule("broken", RuleFunc(func(Snapshot) []UIAdaptation { panic("boom") }))
	r.RegisterRule("low_engagement", LowEngagementRule)

	s := healthy()
	s.Metrics.Engagement = 10
	assert.NotPanics(t, func() { r.Evaluate(s) })
	assert.Len(t, r.ActiveAdaptations(), 2)
}

func TestRecommender_RulesMayReadRecommender(t *testing.T) {
	r, _ := newRecommender(t)
	r.RegisterRule("reads_adaptations", RuleFunc(func(s Snapshot) []UIAdaptation {
		_ = r.ActiveAdaptations()
		_ = r.Personalization()
		return LowEngagementRule.Evaluate(s)
	}))
	r.RegisterGenerator("reads_insights", GeneratorFunc(func(s Snapshot) []Insight {
		_ = r.CurrentInsights()
		_ = r.Recommendations()
		return PerformanceInsights.Generate(s)
	}))

	s := healthy()
	s.Metrics.Engagement = 10
	s.Metrics.SessionQuality = 40

	done := make(chan struct{})
	go func() {
		r.Evaluate(s)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate blocked on a rule reading the recommender")
	}

	assert.NotEmpty(t, r.ActiveAdaptations())
	assert.NotEmpty(t, r.CurrentInsights())
}

func TestReadingSpeed(t *testing.T) {
	assert.Equal(t, 250.0, ReadingSpeed(nil))

	events := []telemetry.Event{
		{Kind: telemetry.KindLearning, Payload: map[string]interface{}{"reading_wpm": 150}},
		{Kind: telemetry.KindLearning, Payload: map[string]interface{}{"reading_wpm": 170.0}},
		{Kind: telemetry.KindInteraction, Payload: map[string]interface{}{"reading_wpm": 900}},
		{Kind: telemetry.KindLearning, Payload: map[string]interface{}{"other": 1}},
	}
	assert.Equal(t, 160.0, ReadingSpeed(events))
}
