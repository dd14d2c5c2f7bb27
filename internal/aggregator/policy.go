package aggregator

import (
	"math"
	"time"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// Policy holds the heuristic constants behind session quality and learning
// effectiveness. They are uncalibrated placeholders, kept together so a
// caller can swap them wholesale.
type Policy struct {
	// ErrorPenalty is the quality points lost per error event in the window
	ErrorPenalty float64
	// SessionWarmup is how long a session must run before quality can reach 100
	SessionWarmup time.Duration
	// LearningSaturation is the learning event count that maps to full effectiveness
	LearningSaturation float64
}

// DefaultPolicy returns the reference heuristics
func DefaultPolicy() Policy {
	return Policy{
		ErrorPenalty:       10,
		SessionWarmup:      5 * time.Minute,
		LearningSaturation: 10,
	}
}

// PolicyFromConfig builds a Policy from the aggregation section
func PolicyFromConfig(cfg config.AggregationConfig) Policy {
	p := DefaultPolicy()
	if cfg.ErrorPenalty > 0 {
		p.ErrorPenalty = cfg.ErrorPenalty
	}
	if cfg.SessionWarmup > 0 {
		p.SessionWarmup = cfg.SessionWarmup
	}
	if cfg.LearningSaturation > 0 {
		p.LearningSaturation = cfg.LearningSaturation
	}
	return p
}

// Compute derives rolling metrics from a window of events. An empty window
// yields the zero value.
func (p Policy) Compute(events []telemetry.Event, sessionAge time.Duration) RollingMetrics {
	if len(events) == 0 {
		return RollingMetrics{}
	}

	n := float64(len(events))
	engagements := make([]float64, len(events))
	var sum float64
	var errors, learning int
	for i, e := range events {
		engagements[i] = e.Signature.Engagement
		sum += e.Signature.Engagement
		switch e.Kind {
		case telemetry.KindError:
			errors++
		case telemetry.KindLearning:
			learning++
		}
	}
	avgEngagement := sum / n

	warmup := 1.0
	if p.SessionWarmup > 0 {
		warmup = math.Min(1, float64(sessionAge)/float64(p.SessionWarmup))
	}
	sessionQuality := math.Max(0.1, (100-float64(errors)*p.ErrorPenalty)/100*warmup)

	learningEffectiveness := math.Min(1, float64(learning)/p.LearningSaturation)
	coherence := math.Max(0.1, 1-variance(engagements))
	satisfaction := (n - float64(errors)) / n * avgEngagement
	adaptive := (avgEngagement + coherence + learningEffectiveness) / 3

	return RollingMetrics{
		Engagement: percent(avgEngagement),
		// Floor, not round: a session inside its warmup stays below 100.
		SessionQuality:            int(math.Floor(math.Min(1, sessionQuality) * 100)),
		LearningEffectiveness:     percent(learningEffectiveness),
		NeuralCoherence:           percent(coherence),
		SatisfactionIndex:         percent(satisfaction),
		AdaptiveIntelligenceScore: percent(adaptive),
	}
}

func percent(v float64) int {
	return int(math.Round(math.Max(0, math.Min(1, v)) * 100))
}

func variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(values))
}
