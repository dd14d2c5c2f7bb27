package patterns

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/neuroloop/internal/telemetry"
)

func fixedNow() time.Time {
	return time.Date(2025, 8, 22, 14, 30, 0, 0, time.UTC)
}

func TestDetector_NeedsTenSamples(t *testing.T) {
	d := NewDetector(fixedNow)
	for i := 0; i < 9; i++ {
		d.Record(90, 50)
	}

	_, ok := d.Detect()
	assert.False(t, ok)
	_, ok = d.Current()
	assert.False(t, ok)
}

func TestDetector_Classification(t *testing.T) {
	tests := []struct {
		name    string
		samples []int
		want    PatternType
		adopted bool
	}{
		{
			name:    "stable high engagement is visual",
			samples: []int{85, 88, 90, 86, 84, 89, 87, 85, 90, 88},
			want:    PatternVisual,
			adopted: true,
		},
		{
			name:    "variable high engagement is kinesthetic",
			samples: []int{100, 30, 100, 30, 100, 30, 100, 30, 100, 100},
			want:    PatternKinesthetic,
			adopted: true,
		},
		{
			name:    "low engagement is unclassified",
			samples: []int{20, 25, 30, 20, 25, 30, 20, 25, 30, 20},
			adopted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(fixedNow)
			for _, s := range tt.samples {
				d.Record(s, 40)
			}
			p, ok := d.Detect()
			require.Equal(t, tt.adopted, ok)
			if !tt.adopted {
				return
			}
			assert.Equal(t, tt.want, p.Type)
			assert.Greater(t, p.Confidence, 0.7)
			assert.NotEmpty(t, p.DetectedBehaviors)
			assert.NotEmpty(t, p.AdaptationSuggestions)

			current, ok := d.Current()
			require.True(t, ok)
			assert.Equal(t, p.ID, current.ID)
		})
	}
}

func TestDetector_UnclassifiedKeepsPrevious(t *testing.T) {
	d := NewDetector(fixedNow)
	for i := 0; i < 10; i++ {
		d.Record(88, 40)
	}
	first, ok := d.Detect()
	require.True(t, ok)

	// Push the mean down to an unclassifiable level.
	for i := 0; i < 90; i++ {
		d.Record(10, 40)
	}
	_, ok = d.Detect()
	assert.False(t, ok)

	current, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, first.ID, current.ID)
}

func TestDetector_HistoryBounds(t *testing.T) {
	d := NewDetector(fixedNow)
	for i := 0; i < 150; i++ {
		d.Record(50, i)
	}
	assert.Equal(t, 100, d.Samples())
	history := d.LearningHistory()
	require.Len(t, history, 50)
	assert.Equal(t, 100.0, history[0])
	assert.Equal(t, 150, d.HourlyUsage()[14])
}

func navigate(p *Predictor, routes ...string) {
	for _, r := range routes {
		p.Navigate(r)
	}
}

func TestPredictor_PredictsRecurringSequence(t *testing.T) {
	p := NewPredictor(fixedNow)

	var hints []PreloadHint
	p.OnPreload(func(h PreloadHint) { hints = append(hints, h) })

	navigate(p, "/", "/diagnostic", "/planning", "/", "/diagnostic")

	pred, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "/planning", pred.NextAction)
	assert.InDelta(t, 0.1, pred.Confidence, 1e-9)

	require.NotEmpty(t, hints)
	last := hints[len(hints)-1]
	assert.Equal(t, "/planning", last.Route)
	assert.Equal(t, []string{"module-planning", "component-calendar"}, last.Modules)
}

func TestPredictor_ConfidenceGrowsAndCaps(t *testing.T) {
	p := NewPredictor(fixedNow)
	for i := 0; i < 15; i++ {
		navigate(p, "/a", "/b", "/c")
	}

	pred, ok := p.Current()
	require.True(t, ok)
	assert.LessOrEqual(t, pred.Confidence, 0.95)
	assert.Greater(t, pred.Confidence, 0.5)
}

func TestPredictor_IgnoresRepeatedRoute(t *testing.T) {
	p := NewPredictor(fixedNow)
	navigate(p, "/a", "/a", "/a", "/b")
	assert.Equal(t, []string{"/a", "/b"}, p.History())
}

func TestPredictor_HistoryBounded(t *testing.T) {
	p := NewPredictor(fixedNow)
	for i := 0; i < 30; i++ {
		p.Navigate(fmt.Sprintf("/r%d", i))
	}
	history := p.History()
	require.Len(t, history, 20)
	assert.Equal(t, "/r10", history[0])
}

func TestPredictor_TieBreaksLexically(t *testing.T) {
	p := NewPredictor(fixedNow)
	navigate(p, "/x", "/y", "/z", "/x", "/y", "/b", "/x", "/y")

	pred, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "/b", pred.NextAction)
}

func TestPredictor_IntensiveLearning(t *testing.T) {
	p := NewPredictor(fixedNow)

	events := make([]telemetry.Event, 0, 30)
	for i := 0; i < 16; i++ {
		events = append(events, telemetry.Event{Kind: telemetry.KindLearning})
	}
	for i := 0; i < 14; i++ {
		events = append(events, telemetry.Event{Kind: telemetry.KindInteraction})
	}
	p.AnalyzeBehavior(events)

	pred, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, "intensive_learning_session", pred.NextAction)
	assert.Equal(t, 0.88, pred.Confidence)
}

func TestPredictor_Accuracy(t *testing.T) {
	p := NewPredictor(fixedNow)
	assert.Equal(t, 0.75, p.Accuracy())

	p.AnalyzeBehavior([]telemetry.Event{{Kind: telemetry.KindLearning}, {Kind: telemetry.KindError}})
	got := p.UpdateAccuracy(50)
	// 0.75 + 0.1 + 2/50
	assert.InDelta(t, 0.89, got, 1e-9)

	assert.Equal(t, 0.95, p.UpdateAccuracy(100))
	assert.InDelta(t, 0.94, p.ReportOutcome(false), 1e-9)
	assert.InDelta(t, 0.95, p.ReportOutcome(true), 1e-9)
	assert.InDelta(t, 0.95, p.ReportOutcome(true), 1e-9)
}

func TestSessionPatterns(t *testing.T) {
	t.Run("too few events", func(t *testing.T) {
		assert.Nil(t, SessionPatterns(make([]telemetry.Event, 5)))
	})

	t.Run("engaged learner exploring", func(t *testing.T) {
		var events []telemetry.Event
		for i := 0; i < 12; i++ {
			events = append(events, telemetry.Event{
				Kind:      telemetry.KindLearning,
				Signature: telemetry.Signature{Engagement: 0.9},
			})
		}
		for _, r := range []string{"/a", "/b", "/c", "/d"} {
			events = append(events, telemetry.Event{
				Kind:      telemetry.KindNavigation,
				Context:   telemetry.Context{Route: r},
				Signature: telemetry.Signature{Engagement: 0.85},
			})
		}

		tags := SessionPatterns(events)
		assert.ElementsMatch(t, []string{TagHighEngagement, TagEffectiveLearning, TagEfficientNav}, tags)
	})
}
