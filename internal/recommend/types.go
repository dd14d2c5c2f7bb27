package recommend

import (
	"time"

	"github.com/gosight/neuroloop/internal/aggregator"
	"github.com/gosight/neuroloop/internal/patterns"
)

// AdaptationKind is the kind of UI change an adaptation makes
type AdaptationKind string

const (
	KindLayout      AdaptationKind = "layout"
	KindColor       AdaptationKind = "color"
	KindSize        AdaptationKind = "size"
	KindInteraction AdaptationKind = "interaction"
	KindContent     AdaptationKind = "content"
)

// Safe reports whether the adaptation may be applied without a caller
func (k AdaptationKind) Safe() bool {
	return k == KindColor || k == KindSize
}

// UIAdaptation is a proposed or applied UI change
type UIAdaptation struct {
	ID            string         `json:"id"`
	Rule          string         `json:"rule"`
	ElementType   string         `json:"element_type"`
	Kind          AdaptationKind `json:"adaptation_type"`
	OriginalValue string         `json:"original_value"`
	AdaptedValue  string         `json:"adapted_value"`
	Reason        string         `json:"reason"`
	Applied       bool           `json:"applied"`
	Effectiveness float64        `json:"effectiveness"`
	CreatedAt     time.Time      `json:"created_at"`
	AppliedAt     *time.Time     `json:"applied_at,omitempty"`
}

type adaptationKey struct {
	element string
	kind    AdaptationKind
}

func (a UIAdaptation) key() adaptationKey {
	return adaptationKey{element: a.ElementType, kind: a.Kind}
}

// InsightKind classifies an insight
type InsightKind string

const (
	InsightLearningOptimization InsightKind = "learning_optimization"
	InsightPerformance          InsightKind = "performance_insight"
	InsightBehaviorPattern      InsightKind = "behavior_pattern"
	InsightRecommendation       InsightKind = "recommendation"
)

// ImpactLevel grades how much an insight matters
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// Insight is a generated, human-readable observation
type Insight struct {
	ID               string                 `json:"id"`
	Kind             InsightKind            `json:"type"`
	Title            string                 `json:"title"`
	Description      string                 `json:"description"`
	Confidence       float64                `json:"confidence"`
	Impact           ImpactLevel            `json:"impact_level"`
	Actionable       bool                   `json:"actionable"`
	SuggestedActions []string               `json:"suggested_actions"`
	Data             map[string]interface{} `json:"data,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
}

// Recommendation is an adaptive behavioral suggestion
type Recommendation struct {
	Type       string  `json:"type"`
	Priority   string  `json:"priority"`
	Message    string  `json:"message"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	AutoApply  bool    `json:"auto_apply"`
}

// Personalization summarizes how far the experience has been tailored
type Personalization struct {
	Score              float64   `json:"personalization_score"`
	OptimizationLevel  float64   `json:"optimization_level"`
	AppliedAdaptations int       `json:"applied_adaptations"`
	Insights           int       `json:"insights"`
	LastAdaptation     time.Time `json:"last_adaptation"`
}

// Snapshot is everything rules and generators see on one tick
type Snapshot struct {
	Metrics       aggregator.RollingMetrics
	LearningStyle *patterns.LearningPattern
	ReadingSpeed  float64
	HourlyUsage   [24]int
	SystemHealth  int
	RouteHistory  []string
	Now           time.Time
}

// AdaptationRule proposes UI adaptations for a snapshot
type AdaptationRule interface {
	Evaluate(s Snapshot) []UIAdaptation
}

// RuleFunc adapts a plain function to AdaptationRule
type RuleFunc func(s Snapshot) []UIAdaptation

// Evaluate calls f(s)
func (f RuleFunc) Evaluate(s Snapshot) []UIAdaptation { return f(s) }

// InsightGenerator derives insights from a snapshot
type InsightGenerator interface {
	Generate(s Snapshot) []Insight
}

// GeneratorFunc adapts a plain function to InsightGenerator
type GeneratorFunc func(s Snapshot) []Insight

// Generate calls f(s)
func (f GeneratorFunc) Generate(s Snapshot) []Insight { return f(s) }
