package recommend

// PerformanceInsights reports weak session quality and strong learning
var PerformanceInsights = GeneratorFunc(func(s Snapshot) []Insight {
	var out []Insight
	if s.Metrics.SessionQuality < 60 {
		out = append(out, Insight{
			Kind:        InsightPerformance,
			Title:       "Session quality below optimal",
			Description: "Recent errors or a short session are holding quality down",
			Confidence:  0.85,
			Impact:      ImpactMedium,
			Actionable:  true,
			SuggestedActions: []string{
				"reduce_cognitive_load",
				"check_component_errors",
			},
			Data: map[string]interface{}{"session_quality": s.Metrics.SessionQuality},
		})
	}
	if s.Metrics.LearningEffectiveness > 80 {
		out = append(out, Insight{
			Kind:        InsightLearningOptimization,
			Title:       "High learning effectiveness",
			Description: "The learner is absorbing content quickly",
			Confidence:  0.9,
			Impact:      ImpactHigh,
			Actionable:  true,
			SuggestedActions: []string{
				"increase_difficulty",
				"introduce_advanced_topics",
			},
			Data: map[string]interface{}{"learning_effectiveness": s.Metrics.LearningEffectiveness},
		})
	}
	return out
})

// BehaviorPatterns reports a peak usage hour
var BehaviorPatterns = GeneratorFunc(func(s Snapshot) []Insight {
	hour := s.Now.Hour()
	if s.HourlyUsage[hour] <= 30 {
		return nil
	}
	return []Insight{{
		Kind:             InsightBehaviorPattern,
		Title:            "Peak usage hour detected",
		Description:      "This hour consistently sees heavy activity",
		Confidence:       0.8,
		Impact:           ImpactMedium,
		Actionable:       true,
		SuggestedActions: []string{"schedule_key_sessions_now"},
		Data: map[string]interface{}{
			"hour":    hour,
			"samples": s.HourlyUsage[hour],
		},
	}}
})

// SmartRecommendations reports a degraded system health score
var SmartRecommendations = GeneratorFunc(func(s Snapshot) []Insight {
	if s.SystemHealth >= 80 {
		return nil
	}
	return []Insight{{
		Kind:        InsightRecommendation,
		Title:       "System performance needs attention",
		Description: "Component health has dropped below the healthy range",
		Confidence:  0.88,
		Impact:      ImpactHigh,
		Actionable:  true,
		SuggestedActions: []string{
			"enable_auto_healing",
			"reduce_animation_fidelity",
		},
		Data: map[string]interface{}{"system_health": s.SystemHealth},
	}}
})

// AdaptiveIntelligence reports a strongly adapted session
var AdaptiveIntelligence = GeneratorFunc(func(s Snapshot) []Insight {
	if s.Metrics.AdaptiveIntelligenceScore <= 85 {
		return nil
	}
	return []Insight{{
		Kind:             InsightLearningOptimization,
		Title:            "Adaptive intelligence peak",
		Description:      "Engagement, coherence and learning are all high",
		Confidence:       0.92,
		Impact:           ImpactHigh,
		Actionable:       false,
		SuggestedActions: []string{"maintain_current_settings"},
		Data:             map[string]interface{}{"adaptive_intelligence_score": s.Metrics.AdaptiveIntelligenceScore},
	}}
})
