package patterns

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PatternType is a learning-style label
type PatternType string

const (
	PatternVisual      PatternType = "visual"
	PatternKinesthetic PatternType = "kinesthetic"
	PatternAuditory    PatternType = "auditory"
	PatternReading     PatternType = "reading"
	PatternMixed       PatternType = "mixed"
)

const (
	minEngagementSamples = 10
	maxEngagementSamples = 100
	maxLearningSamples   = 50
	adoptionConfidence   = 0.7
)

// LearningPattern is a classified learning style
type LearningPattern struct {
	ID                    string      `json:"id"`
	Type                  PatternType `json:"pattern_type"`
	Confidence            float64     `json:"confidence"`
	DetectedBehaviors     []string    `json:"detected_behaviors"`
	AdaptationSuggestions []string    `json:"adaptation_suggestions"`
	EffectivenessScore    float64     `json:"effectiveness_score"`
	DetectedAt            time.Time   `json:"detected_at"`
}

// Detector classifies a learning style from the engagement history
type Detector struct {
	mu         sync.Mutex
	engagement []float64
	learning   []float64
	hourly     [24]int
	current    *LearningPattern
	now        func() time.Time
}

// NewDetector creates a new learning-style detector
func NewDetector(now func() time.Time) *Detector {
	if now == nil {
		now = time.Now
	}
	return &Detector{
		engagement: make([]float64, 0, maxEngagementSamples),
		learning:   make([]float64, 0, maxLearningSamples),
		now:        now,
	}
}

// Record appends one metrics sample to the behavior history
func (d *Detector) Record(engagement, learningEffectiveness int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hourly[d.now().Hour()]++

	d.engagement = append(d.engagement, float64(engagement))
	if len(d.engagement) > maxEngagementSamples {
		d.engagement = d.engagement[len(d.engagement)-maxEngagementSamples:]
	}

	d.learning = append(d.learning, float64(learningEffectiveness))
	if len(d.learning) > maxLearningSamples {
		d.learning = d.learning[len(d.learning)-maxLearningSamples:]
	}
}

// Detect classifies the current history. The result replaces the current
// pattern only when its confidence exceeds the adoption threshold; the
// boolean reports whether that happened.
func (d *Detector) Detect() (LearningPattern, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.engagement) < minEngagementSamples {
		return LearningPattern{}, false
	}

	mean, std := meanStd(d.engagement)

	var candidate *LearningPattern
	switch {
	// Stable, high engagement
	case mean > 70 && std < 15:
		candidate = &LearningPattern{
			Type:       PatternVisual,
			Confidence: 0.82,
			DetectedBehaviors: []string{
				"consistent_high_engagement",
				"stable_interaction_patterns",
				"preference_for_visual_elements",
			},
			AdaptationSuggestions: []string{
				"increase_visual_content",
				"add_interactive_diagrams",
				"enhance_color_coding",
			},
		}
	// Variable but generally high engagement
	case mean > 60 && std > 25:
		candidate = &LearningPattern{
			Type:       PatternKinesthetic,
			Confidence: 0.75,
			DetectedBehaviors: []string{
				"variable_engagement_levels",
				"preference_for_interaction",
				"responds_to_dynamic_content",
			},
			AdaptationSuggestions: []string{
				"add_interactive_exercises",
				"increase_hands_on_activities",
				"provide_immediate_feedback",
			},
		}
	}

	if candidate == nil || candidate.Confidence <= adoptionConfidence {
		return LearningPattern{}, false
	}

	candidate.ID = "pattern_" + string(candidate.Type) + "_" + uuid.NewString()
	candidate.EffectivenessScore = mean
	candidate.DetectedAt = d.now()
	d.current = candidate

	log.Info().
		Str("pattern", string(candidate.Type)).
		Float64("confidence", candidate.Confidence).
		Msg("Learning pattern detected")

	return *candidate, true
}

// Current returns the adopted learning pattern, if any
func (d *Detector) Current() (LearningPattern, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == nil {
		return LearningPattern{}, false
	}
	return *d.current, true
}

// HourlyUsage returns samples recorded per hour of day
func (d *Detector) HourlyUsage() [24]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hourly
}

// Samples returns the number of engagement samples held
func (d *Detector) Samples() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.engagement)
}

// LearningHistory returns a copy of the learning effectiveness history
func (d *Detector) LearningHistory() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]float64, len(d.learning))
	copy(out, d.learning)
	return out
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
