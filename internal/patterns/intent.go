package patterns

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/telemetry"
)

const (
	maxRouteHistory            = 20
	intensiveLearningThreshold = 15
	baseAccuracy               = 0.75
)

// PreloadModules maps a route to the module identifiers an external loader
// may warm when that route is predicted
var PreloadModules = map[string][]string{
	"/lectoguia":    {"module-lectoguia", "component-chat"},
	"/diagnostic":   {"module-diagnostic", "component-questions"},
	"/planning":     {"module-planning", "component-calendar"},
	"/universe":     {"module-universe", "component-3d"},
	"/achievements": {"module-achievements", "component-badges"},
	"/financial":    {"module-financial", "component-calculator"},
}

// Prediction is the user's predicted next action
type Prediction struct {
	NextAction            string        `json:"next_action"`
	Confidence            float64       `json:"confidence"`
	SuggestedPreload      []string      `json:"suggested_preload"`
	EstimatedTimeToAction time.Duration `json:"estimated_time_to_action"`
	ContextFactors        []string      `json:"context_factors"`
	PredictedAt           time.Time     `json:"predicted_at"`
}

// PreloadHint is advisory output for an external module loader
type PreloadHint struct {
	Route   string   `json:"route"`
	Modules []string `json:"modules"`
}

type routeTriple [3]string

// Predictor learns route sequences and predicts the next navigation
type Predictor struct {
	mu         sync.Mutex
	history    []string
	triples    map[routeTriple]int
	current    *Prediction
	accuracy   float64
	patternSet map[string]struct{}
	now        func() time.Time

	hooksMu sync.RWMutex
	hooks   []func(PreloadHint)
}

// NewPredictor creates a new intent predictor
func NewPredictor(now func() time.Time) *Predictor {
	if now == nil {
		now = time.Now
	}
	return &Predictor{
		history:    make([]string, 0, maxRouteHistory),
		triples:    make(map[routeTriple]int),
		accuracy:   baseAccuracy,
		patternSet: make(map[string]struct{}),
		now:        now,
	}
}

// OnPreload registers a receiver for speculative preload hints
func (p *Predictor) OnPreload(fn func(PreloadHint)) {
	p.hooksMu.Lock()
	p.hooks = append(p.hooks, fn)
	p.hooksMu.Unlock()
}

// Navigate records a route change and refreshes the prediction. Repeated
// navigation to the current route is ignored.
func (p *Predictor) Navigate(route string) (Prediction, bool) {
	p.mu.Lock()

	if route == "" || (len(p.history) > 0 && p.history[len(p.history)-1] == route) {
		p.mu.Unlock()
		return Prediction{}, false
	}

	p.history = append(p.history, route)
	if len(p.history) > maxRouteHistory {
		p.history = p.history[len(p.history)-maxRouteHistory:]
	}

	if len(p.history) < 3 {
		p.mu.Unlock()
		return Prediction{}, false
	}

	n := len(p.history)
	p.triples[routeTriple{p.history[n-3], p.history[n-2], p.history[n-1]}]++

	next, freq, ok := p.lookup(p.history[n-2], p.history[n-1])
	if !ok {
		p.mu.Unlock()
		return Prediction{}, false
	}

	prediction := Prediction{
		NextAction:            next,
		Confidence:            math.Min(0.95, float64(freq)/10),
		SuggestedPreload:      []string{next},
		EstimatedTimeToAction: 5 * time.Second,
		ContextFactors:        []string{"navigation_pattern", "user_history"},
		PredictedAt:           p.now(),
	}
	p.current = &prediction
	p.patternSet["navigation:"+next] = struct{}{}
	p.mu.Unlock()

	log.Debug().
		Str("next_action", next).
		Float64("confidence", prediction.Confidence).
		Msg("Navigation predicted")

	if modules, ok := PreloadModules[next]; ok {
		hint := PreloadHint{Route: next, Modules: append([]string(nil), modules...)}
		p.hooksMu.RLock()
		hooks := p.hooks
		p.hooksMu.RUnlock()
		for _, hook := range hooks {
			hook(hint)
		}
	}

	return prediction, true
}

// lookup finds the most frequent triple starting with (first, second).
// Ties go to the lexically smallest third route. Must be called with p.mu held.
func (p *Predictor) lookup(first, second string) (string, int, bool) {
	type candidate struct {
		route string
		freq  int
	}
	var candidates []candidate
	for t, freq := range p.triples {
		if t[0] == first && t[1] == second {
			candidates = append(candidates, candidate{t[2], freq})
		}
	}
	if len(candidates) == 0 {
		return "", 0, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].freq != candidates[j].freq {
			return candidates[i].freq > candidates[j].freq
		}
		return candidates[i].route < candidates[j].route
	})
	return candidates[0].route, candidates[0].freq, true
}

// AnalyzeBehavior inspects recent events for an intensive learning session
func (p *Predictor) AnalyzeBehavior(events []telemetry.Event) {
	counts := make(map[telemetry.Kind]int)
	for _, e := range events {
		counts[e.Kind]++
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for kind := range counts {
		p.patternSet["kind:"+string(kind)] = struct{}{}
	}

	if counts[telemetry.KindLearning] > intensiveLearningThreshold {
		p.current = &Prediction{
			NextAction:            "intensive_learning_session",
			Confidence:            0.88,
			SuggestedPreload:      []string{"additional_exercises", "progress_tracking"},
			EstimatedTimeToAction: 2 * time.Second,
			ContextFactors:        []string{"high_learning_frequency", "focused_session"},
			PredictedAt:           p.now(),
		}
	}
}

// UpdateAccuracy recomputes prediction accuracy from the adaptation level
// (0-100) and the number of distinct patterns observed
func (p *Predictor) UpdateAccuracy(adaptationLevel float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	adaptationBonus := adaptationLevel / 100 * 0.2
	experienceBonus := math.Min(0.1, float64(len(p.patternSet))/50)
	p.accuracy = math.Min(0.95, baseAccuracy+adaptationBonus+experienceBonus)
	return p.accuracy
}

// ReportOutcome nudges accuracy after a prediction is confirmed or refuted
func (p *Predictor) ReportOutcome(correct bool) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	adjustment := -0.01
	if correct {
		adjustment = 0.01
	}
	p.accuracy = math.Max(0.3, math.Min(0.95, p.accuracy+adjustment))
	return p.accuracy
}

// Accuracy returns the current prediction accuracy estimate
func (p *Predictor) Accuracy() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accuracy
}

// Current returns the latest prediction, if any
func (p *Predictor) Current() (Prediction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return Prediction{}, false
	}
	out := *p.current
	out.SuggestedPreload = append([]string(nil), p.current.SuggestedPreload...)
	out.ContextFactors = append([]string(nil), p.current.ContextFactors...)
	return out, true
}

// History returns a copy of the recent route history
func (p *Predictor) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.history))
	copy(out, p.history)
	return out
}
