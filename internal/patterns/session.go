package patterns

import (
	"github.com/gosight/neuroloop/internal/telemetry"
)

// Session-level pattern tags
const (
	TagHighEngagement    = "high_engagement_session"
	TagEffectiveLearning = "effective_learning_pattern"
	TagEfficientNav      = "efficient_navigation"
)

// SessionPatterns tags a window of events (typically the last 50)
func SessionPatterns(events []telemetry.Event) []string {
	if len(events) < 10 {
		return nil
	}

	var tags []string

	highEngagement := 0
	learning := 0
	navigations := 0
	routes := make(map[string]struct{})
	for _, e := range events {
		if e.Signature.Engagement > 0.8 {
			highEngagement++
		}
		switch e.Kind {
		case telemetry.KindLearning:
			learning++
		case telemetry.KindNavigation:
			navigations++
			routes[e.Context.Route] = struct{}{}
		}
	}

	if float64(highEngagement) > float64(len(events))*0.7 {
		tags = append(tags, TagHighEngagement)
	}
	if learning > 10 {
		tags = append(tags, TagEffectiveLearning)
	}
	if len(routes) > 3 && float64(navigations)/float64(len(routes)) < 3 {
		tags = append(tags, TagEfficientNav)
	}

	return tags
}
