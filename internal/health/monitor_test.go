package health

import (
	"errors"
	"math"
	"runtime/debug"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/telemetry"
)

type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Capture(kind telemetry.Kind, payload map[string]interface{}, ctx telemetry.Context) telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := telemetry.Event{Kind: kind, Payload: payload, Context: ctx}
	s.events = append(s.events, e)
	return e
}

func (s *recordingSink) byType(typ string) []telemetry.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.Event
	for _, e := range s.events {
		if e.Payload["type"] == typ {
			out = append(out, e)
		}
	}
	return out
}

type recordingHealer struct {
	mu         sync.Mutex
	components []string
	resets     []string
}

func (h *recordingHealer) RequestComponentHealing(component string) {
	h.mu.Lock()
	h.components = append(h.components, component)
	h.mu.Unlock()
}

func (h *recordingHealer) RequestStateReset(target string) {
	h.mu.Lock()
	h.resets = append(h.resets, target)
	h.mu.Unlock()
}

var noMemory = SamplerFunc(func() (uint64, uint64) { return 0, 0 })

func newMonitor(t *testing.T, sampler MemorySampler) (*Monitor, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	if sampler == nil {
		sampler = noMemory
	}
	now := func() time.Time { return time.Date(2025, 8, 22, 9, 0, 0, 0, time.UTC) }
	return NewMonitor(config.Default().Health, sink, sampler, now), sink
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		health ComponentHealth
		want   int
		status Status
	}{
		{"clean", ComponentHealth{}, 100, StatusHealthy},
		{"three errors", ComponentHealth{ErrorCount: 3}, 85, StatusHealthy},
		{"slow render", ComponentHealth{ErrorCount: 2, Performance: PerformanceMetrics{RenderTime: 150}}, 70, StatusWarning},
		{"error penalty capped", ComponentHealth{ErrorCount: 40}, 50, StatusCritical},
		{"everything wrong", ComponentHealth{ErrorCount: 20, Performance: PerformanceMetrics{RenderTime: 200, MemoryUsage: 80}}, 15, StatusRecovering},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := Score(tt.health)
			assert.Equal(t, tt.want, score)
			assert.Equal(t, tt.status, StatusFor(score))
			assert.GreaterOrEqual(t, score, 10)
		})
	}
}

func TestMonitor_StartsHealthy(t *testing.T) {
	m, _ := newMonitor(t, nil)
	s := m.Snapshot()
	assert.Equal(t, 100, s.OverallScore)
	assert.Empty(t, s.ActiveIssues)

	s = m.Tick()
	assert.Equal(t, 100, s.OverallScore)
	assert.Empty(t, s.Components)
}

func TestMonitor_ReportErrorCreatesRecord(t *testing.T) {
	m, sink := newMonitor(t, nil)
	m.ReportError("Quiz", errors.New("render failed"))
	m.ReportError("Quiz", nil)

	c, ok := m.Component("Quiz")
	require.True(t, ok)
	assert.Equal(t, 2, c.ErrorCount)
	assert.Equal(t, "unknown error", c.LastError)
	assert.InDelta(t, 0.2, c.Performance.ErrorRate, 1e-9)
	assert.Len(t, sink.byType("component_error"), 2)
}

func TestMonitor_TickTwoComponents(t *testing.T) {
	m, sink := newMonitor(t, nil)

	for i := 0; i < 5; i++ {
		m.ReportError("Weak", errors.New("boom"))
	}
	m.ReportPerformance("Weak", 150, 60)
	m.ReportPerformance("Strong", 20, 10)

	s := m.Tick()

	assert.Equal(t, 70, s.OverallScore)
	require.Len(t, s.Components, 2)
	assert.Equal(t, "Strong", s.Components[0].Name)
	assert.Equal(t, 40, s.Components[1].HealthScore)
	assert.Equal(t, StatusCritical, s.Components[1].Status)
	assert.Contains(t, s.ActiveIssues, "Weak: critical")
	assert.NotContains(t, s.ActiveIssues, IssuePerformanceDegraded)

	checks := sink.byType("health_check")
	require.Len(t, checks, 1)
	assert.Equal(t, 70, checks[0].Payload["overall_score"])
}

func TestMonitor_DegradedAndMemoryIssues(t *testing.T) {
	sampler := SamplerFunc(func() (uint64, uint64) { return 90, 100 })
	m, _ := newMonitor(t, sampler)

	for i := 0; i < 10; i++ {
		m.ReportError("Broken", errors.New("boom"))
	}
	m.ReportPerformance("Broken", 500, 500)

	s := m.Tick()
	assert.Equal(t, 15, s.OverallScore)
	assert.Contains(t, s.ActiveIssues, "Broken: recovering")
	assert.Contains(t, s.ActiveIssues, IssuePerformanceDegraded)
	assert.Contains(t, s.ActiveIssues, IssueHighMemory)
}

func TestMonitor_CriticalThresholdRequestsHealing(t *testing.T) {
	m, _ := newMonitor(t, nil)
	healer := &recordingHealer{}
	m.SetHealer(healer)

	for i := 0; i < 8; i++ {
		m.ReportError("ChatPanel", errors.New("boom"))
	}

	// The eighth error arrives while the component is already recovering.
	assert.Equal(t, []string{"ChatPanel"}, healer.components)

	c, _ := m.Component("ChatPanel")
	assert.Equal(t, StatusRecovering, c.Status)

	s := m.Tick()
	assert.Contains(t, s.ActiveIssues, "ChatPanel: recovering")
}

func TestMonitor_RecoveryLifecycle(t *testing.T) {
	m, _ := newMonitor(t, nil)
	assert.False(t, m.BeginRecovery("missing"))

	for i := 0; i < 3; i++ {
		m.ReportError("Chart", errors.New("boom"))
	}

	require.True(t, m.BeginRecovery("Chart"))
	m.CompleteRecovery("Chart", false)
	s := m.Tick()
	c := s.Components[0]
	assert.Equal(t, StatusRecovering, c.Status)
	assert.Equal(t, 1, c.RecoveryAttempts)

	require.True(t, m.BeginRecovery("Chart"))
	m.CompleteRecovery("Chart", true)
	c, _ = m.Component("Chart")
	assert.Equal(t, StatusHealthy, c.Status)
	assert.Equal(t, 1, c.ErrorCount)
	assert.Equal(t, 2, c.RecoveryAttempts)
}

func TestMonitor_RecoveryGivesUpAfterMaxAttempts(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.ReportError("Chart", errors.New("boom"))

	for i := 0; i < config.Default().Health.MaxRecoveryAttempts; i++ {
		require.True(t, m.BeginRecovery("Chart"))
		m.CompleteRecovery("Chart", false)
	}

	s := m.Tick()
	assert.Equal(t, StatusHealthy, s.Components[0].Status)
}

func TestMonitor_ErrorCountFloorsAtZero(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.ReportError("Badge", errors.New("boom"))

	require.True(t, m.BeginRecovery("Badge"))
	m.CompleteRecovery("Badge", true)

	c, _ := m.Component("Badge")
	assert.Equal(t, 0, c.ErrorCount)
}

func TestMonitor_GlobalErrorEscalation(t *testing.T) {
	m, sink := newMonitor(t, nil)
	healer := &recordingHealer{}
	m.SetHealer(healer)

	m.HandleGlobalError("worker", errors.New("unexpected"))
	assert.Empty(t, healer.resets)
	assert.Len(t, sink.byType("global_error"), 1)

	for i := 0; i < 20; i++ {
		m.ReportError("Broken", errors.New("boom"))
	}
	m.ReportPerformance("Broken", 500, 500)
	m.Tick()

	m.HandleGlobalError("worker", errors.New("unexpected"))
	assert.Equal(t, []string{"global"}, healer.resets)
}

func TestMonitor_RecoverInterceptsPanics(t *testing.T) {
	m, sink := newMonitor(t, nil)

	assert.NotPanics(t, func() {
		defer m.Recover("handler")
		panic("boom")
	})
	events := sink.byType("global_error")
	require.Len(t, events, 1)
	assert.Equal(t, "panic: boom", events[0].Payload["message"])

	done := make(chan struct{})
	m.Go("background", func() {
		defer close(done)
		panic("async boom")
	})
	<-done
	require.Eventually(t, func() bool {
		return len(sink.byType("global_error")) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMonitor_SnapshotIsACopy(t *testing.T) {
	m, _ := newMonitor(t, nil)
	m.ReportError("A", errors.New("boom"))
	m.Tick()

	s := m.Snapshot()
	s.Components[0].HealthScore = 0
	s.ActiveIssues = append(s.ActiveIssues, "tampered")

	fresh := m.Snapshot()
	assert.Equal(t, 95, fresh.Components[0].HealthScore)
	assert.NotContains(t, fresh.ActiveIssues, "tampered")
}

func TestRuntimeSampler_Limit(t *testing.T) {
	used, limit := RuntimeSampler{Limit: 1 << 30}.Sample()
	assert.Greater(t, used, uint64(0))
	assert.Equal(t, uint64(1<<30), limit)

	prev := debug.SetMemoryLimit(512 << 20)
	defer debug.SetMemoryLimit(prev)

	_, limit = RuntimeSampler{}.Sample()
	assert.Equal(t, uint64(512<<20), limit)

	debug.SetMemoryLimit(math.MaxInt64)
	_, limit = RuntimeSampler{}.Sample()
	assert.Equal(t, uint64(0), limit)
}
