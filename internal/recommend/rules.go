package recommend

import (
	"encoding/json"

	"github.com/gosight/neuroloop/internal/patterns"
	"github.com/gosight/neuroloop/internal/telemetry"
)

const (
	lowEngagementThreshold = 50
	slowReadingWPM         = 200
	defaultReadingWPM      = 250
)

// LowEngagementRule proposes higher-contrast interactive affordances
var LowEngagementRule = RuleFunc(func(s Snapshot) []UIAdaptation {
	if s.Metrics.Engagement >= lowEngagementThreshold {
		return nil
	}
	return []UIAdaptation{
		{
			ElementType:   "buttons",
			Kind:          KindColor,
			OriginalValue: "default",
			AdaptedValue:  "vibrant",
			Reason:        "Increase visual appeal for low engagement",
		},
		{
			ElementType:   "animations",
			Kind:          KindInteraction,
			OriginalValue: "subtle",
			AdaptedValue:  "prominent",
			Reason:        "More engaging animations",
		},
	}
})

// ReadingSpeedRule proposes larger text and more whitespace for slow readers
var ReadingSpeedRule = RuleFunc(func(s Snapshot) []UIAdaptation {
	if s.ReadingSpeed >= slowReadingWPM {
		return nil
	}
	return []UIAdaptation{
		{
			ElementType:   "text",
			Kind:          KindSize,
			OriginalValue: "14px",
			AdaptedValue:  "16px",
			Reason:        "Larger text for better readability",
		},
		{
			ElementType:   "content",
			Kind:          KindLayout,
			OriginalValue: "compact",
			AdaptedValue:  "spacious",
			Reason:        "More whitespace for easier reading",
		},
	}
})

// VisualLearnerRule proposes icon-first navigation and visual-dense content
var VisualLearnerRule = RuleFunc(func(s Snapshot) []UIAdaptation {
	if s.LearningStyle == nil || s.LearningStyle.Type != patterns.PatternVisual {
		return nil
	}
	return []UIAdaptation{
		{
			ElementType:   "content",
			Kind:          KindContent,
			OriginalValue: "text_heavy",
			AdaptedValue:  "visual_rich",
			Reason:        "Visual learner detected",
		},
		{
			ElementType:   "navigation",
			Kind:          KindLayout,
			OriginalValue: "text_menu",
			AdaptedValue:  "icon_menu",
			Reason:        "Visual navigation preference",
		},
	}
})

// ReadingSpeed averages the reading_wpm samples carried by learning events
func ReadingSpeed(events []telemetry.Event) float64 {
	var sum float64
	var n int
	for _, e := range events {
		if e.Kind != telemetry.KindLearning {
			continue
		}
		if wpm, ok := toFloat(e.Payload["reading_wpm"]); ok && wpm > 0 {
			sum += wpm
			n++
		}
	}
	if n == 0 {
		return defaultReadingWPM
	}
	return sum / float64(n)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
