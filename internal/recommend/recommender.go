package recommend

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const maxCurrentInsights = 10

type namedRule struct {
	name string
	rule AdaptationRule
}

type namedGenerator struct {
	name      string
	generator InsightGenerator
}

// Recommender turns metrics snapshots into UI adaptations, insights and
// adaptive recommendations
type Recommender struct {
	cfg  config.InsightsConfig
	sink telemetry.Sink
	now  func() time.Time
	rand func() float64

	mu              sync.Mutex
	rules           []namedRule
	generators      []namedGenerator
	adaptations     []*UIAdaptation
	adaptationIndex map[adaptationKey]*UIAdaptation
	insights        []Insight
	recommendations []Recommendation
	learningConf    float64
	lastAdaptation  time.Time

	hooksMu sync.RWMutex
	hooks   []func(Insight)
}

// NewRecommender creates a new recommender. now and rnd may be nil.
func NewRecommender(cfg config.InsightsConfig, sink telemetry.Sink, now func() time.Time, rnd func() float64) *Recommender {
	if now == nil {
		now = time.Now
	}
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Recommender{
		cfg:             cfg,
		sink:            sink,
		now:             now,
		rand:            rnd,
		adaptationIndex: make(map[adaptationKey]*UIAdaptation),
	}
}

// RegisterDefaults registers the built-in rules and insight generators
func (r *Recommender) RegisterDefaults() {
	r.RegisterRule("low_engagement", LowEngagementRule)
	r.RegisterRule("reading_speed", ReadingSpeedRule)
	r.RegisterRule("visual_learner", VisualLearnerRule)

	r.RegisterGenerator("performance_insights", PerformanceInsights)
	r.RegisterGenerator("behavior_patterns", BehaviorPatterns)
	r.RegisterGenerator("smart_recommendations", SmartRecommendations)
	r.RegisterGenerator("adaptive_intelligence", AdaptiveIntelligence)
}

// RegisterRule adds or replaces a named adaptation rule
func (r *Recommender) RegisterRule(name string, rule AdaptationRule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rules {
		if r.rules[i].name == name {
			r.rules[i].rule = rule
			return
		}
	}
	r.rules = append(r.rules, namedRule{name: name, rule: rule})
	log.Debug().Str("rule", name).Msg("Adaptation rule registered")
}

// RegisterGenerator adds or replaces a named insight generator
func (r *Recommender) RegisterGenerator(name string, generator InsightGenerator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.generators {
		if r.generators[i].name == name {
			r.generators[i].generator = generator
			return
		}
	}
	r.generators = append(r.generators, namedGenerator{name: name, generator: generator})
	log.Debug().Str("generator", name).Msg("Insight generator registered")
}

// OnInsight registers a receiver for newly generated insights
func (r *Recommender) OnInsight(fn func(Insight)) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, fn)
	r.hooksMu.Unlock()
}

// Evaluate runs every rule and generator against the snapshot, auto-applies
// safe adaptations and refreshes the adaptive recommendations
func (r *Recommender) Evaluate(s Snapshot) {
	if s.Now.IsZero() {
		s.Now = r.now()
	}

	r.mu.Lock()
	if s.LearningStyle != nil {
		r.learningConf = s.LearningStyle.Confidence
	}
	rules := append([]namedRule(nil), r.rules...)
	generators := append([]namedGenerator(nil), r.generators...)
	r.mu.Unlock()

	// Rules and generators run unlocked so they may read the recommender
	type proposal struct {
		rule       string
		adaptation UIAdaptation
	}
	var proposed []proposal
	for _, nr := range rules {
		for _, a := range safeEvaluate(nr, s) {
			proposed = append(proposed, proposal{rule: nr.name, adaptation: a})
		}
	}
	var generated []Insight
	for _, ng := range generators {
		generated = append(generated, safeGenerate(ng, s)...)
	}
	recommendations := buildRecommendations(s)

	r.mu.Lock()
	for _, p := range proposed {
		a := p.adaptation
		if _, exists := r.adaptationIndex[a.key()]; exists {
			continue
		}
		a.ID = "adaptation_" + uuid.NewString()
		a.Rule = p.rule
		a.Applied = false
		a.CreatedAt = s.Now
		r.adaptations = append(r.adaptations, &a)
		r.adaptationIndex[a.key()] = &a
	}

	var applied []UIAdaptation
	for _, a := range r.adaptations {
		if len(applied) >= r.cfg.MaxAutoApply {
			break
		}
		if a.Applied || !a.Kind.Safe() {
			continue
		}
		r.applyLocked(a, s.Now)
		applied = append(applied, *a)
	}

	var fresh []Insight
	for _, in := range generated {
		if r.recentInsightLocked(in.Kind, s.Now) {
			continue
		}
		in.ID = "insight_" + uuid.NewString()
		in.Timestamp = s.Now
		r.insights = append(r.insights, in)
		fresh = append(fresh, in)
	}
	r.gcInsightsLocked(s.Now)

	r.recommendations = recommendations
	r.mu.Unlock()

	for _, a := range applied {
		r.recordApplied(a)
	}

	r.hooksMu.RLock()
	hooks := r.hooks
	r.hooksMu.RUnlock()
	for _, in := range fresh {
		log.Info().Str("kind", string(in.Kind)).Str("title", in.Title).Msg("Insight generated")
		for _, hook := range hooks {
			hook(in)
		}
	}
}

// Apply applies an advisory adaptation by id on behalf of an external caller
func (r *Recommender) Apply(id string) (UIAdaptation, bool) {
	r.mu.Lock()
	var target *UIAdaptation
	for _, a := range r.adaptations {
		if a.ID == id {
			target = a
			break
		}
	}
	if target == nil {
		r.mu.Unlock()
		return UIAdaptation{}, false
	}
	if target.Applied {
		out := *target
		r.mu.Unlock()
		return out, true
	}
	r.applyLocked(target, r.now())
	out := *target
	r.mu.Unlock()

	r.recordApplied(out)
	return out, true
}

func (r *Recommender) applyLocked(a *UIAdaptation, now time.Time) {
	a.Applied = true
	a.Effectiveness = 0.7 + r.rand()*0.3
	at := now
	a.AppliedAt = &at
	r.lastAdaptation = now
}

func (r *Recommender) recordApplied(a UIAdaptation) {
	log.Info().
		Str("element", a.ElementType).
		Str("kind", string(a.Kind)).
		Str("value", a.AdaptedValue).
		Msg("UI adaptation applied")

	if r.sink == nil {
		return
	}
	r.sink.Capture(telemetry.KindPerformance, map[string]interface{}{
		"type":          "ui_adaptation",
		"adaptation_id": a.ID,
		"element_type":  a.ElementType,
		"adaptation":    string(a.Kind),
		"effectiveness": a.Effectiveness,
	}, telemetry.Context{ComponentName: "recommendation_engine"})
}

func (r *Recommender) recentInsightLocked(kind InsightKind, now time.Time) bool {
	for i := len(r.insights) - 1; i >= 0; i-- {
		in := r.insights[i]
		if in.Kind == kind && now.Sub(in.Timestamp) < r.cfg.DedupWindow {
			return true
		}
	}
	return false
}

func (r *Recommender) gcInsightsLocked(now time.Time) {
	kept := r.insights[:0]
	for _, in := range r.insights {
		if now.Sub(in.Timestamp) <= r.cfg.Retention {
			kept = append(kept, in)
		}
	}
	r.insights = kept
}

// ActiveAdaptations returns a copy of every proposed and applied adaptation
func (r *Recommender) ActiveAdaptations() []UIAdaptation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UIAdaptation, len(r.adaptations))
	for i, a := range r.adaptations {
		out[i] = *a
	}
	return out
}

// CurrentInsights returns the most recent insights, newest last
func (r *Recommender) CurrentInsights() []Insight {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if len(r.insights) > maxCurrentInsights {
		start = len(r.insights) - maxCurrentInsights
	}
	out := make([]Insight, len(r.insights)-start)
	copy(out, r.insights[start:])
	return out
}

// Recommendations returns the adaptive recommendations from the last evaluation
func (r *Recommender) Recommendations() []Recommendation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Recommendation, len(r.recommendations))
	copy(out, r.recommendations)
	return out
}

// Personalization scores how far the experience has been tailored
func (r *Recommender) Personalization() Personalization {
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := 0
	var effectiveness float64
	for _, a := range r.adaptations {
		if a.Applied {
			applied++
			effectiveness += a.Effectiveness
		}
	}
	meanEffectiveness := 0.0
	if applied > 0 {
		meanEffectiveness = effectiveness / float64(applied)
	}

	score := r.learningConf*30 +
		math.Min(40, float64(applied)*8) +
		math.Min(20, float64(len(r.insights))*2) +
		meanEffectiveness*10

	return Personalization{
		Score:              score,
		OptimizationLevel:  score / 10,
		AppliedAdaptations: applied,
		Insights:           len(r.insights),
		LastAdaptation:     r.lastAdaptation,
	}
}

var priorityRank = map[string]int{"high": 3, "medium": 2, "low": 1}

// buildRecommendations ranks by priority, then confidence
func buildRecommendations(s Snapshot) []Recommendation {
	var out []Recommendation

	if s.Metrics.Engagement < 50 {
		out = append(out, Recommendation{
			Type:       "optimization",
			Priority:   "high",
			Message:    "Engagement is low; add more interactive elements",
			Action:     "enhance_interactivity",
			Confidence: 0.85,
		})
	}

	if s.Metrics.LearningEffectiveness > 70 {
		out = append(out, Recommendation{
			Type:       "learning",
			Priority:   "medium",
			Message:    "Learning momentum is high; introduce more advanced content",
			Action:     "suggest_advanced_content",
			Confidence: 0.78,
		})
	}

	if len(s.RouteHistory) > 10 {
		recent := s.RouteHistory[len(s.RouteHistory)-10:]
		distinct := make(map[string]struct{}, len(recent))
		for _, route := range recent {
			distinct[route] = struct{}{}
		}
		if len(distinct) < 3 {
			out = append(out, Recommendation{
				Type:       "navigation",
				Priority:   "low",
				Message:    "Navigation is concentrated on a few routes; suggest other modules",
				Action:     "suggest_exploration",
				Confidence: 0.65,
			})
		}
	}

	if s.Metrics.NeuralCoherence < 60 {
		out = append(out, Recommendation{
			Type:       "optimization",
			Priority:   "high",
			Message:    "Interaction is inconsistent; stabilize the interface",
			Action:     "stabilize_interface",
			Confidence: 0.90,
			AutoApply:  true,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if pi, pj := priorityRank[out[i].Priority], priorityRank[out[j].Priority]; pi != pj {
			return pi > pj
		}
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

func safeEvaluate(nr namedRule, s Snapshot) (out []UIAdaptation) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("rule", nr.name).Interface("panic", rec).Msg("Adaptation rule panicked")
			out = nil
		}
	}()
	return nr.rule.Evaluate(s)
}

func safeGenerate(ng namedGenerator, s Snapshot) (out []Insight) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("generator", ng.name).Interface("panic", rec).Msg("Insight generator panicked")
			out = nil
		}
	}()
	return ng.generator.Generate(s)
}
