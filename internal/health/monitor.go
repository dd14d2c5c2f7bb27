package health

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/instrument"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// Monitor keeps per-component health records and scores them every tick
type Monitor struct {
	cfg     config.HealthConfig
	sink    telemetry.Sink
	sampler MemorySampler
	now     func() time.Time

	mu         sync.Mutex
	components map[string]*ComponentHealth

	snapshot atomic.Pointer[SystemHealth]

	healerMu sync.RWMutex
	healer   Healer
}

// NewMonitor creates a new component health monitor
func NewMonitor(cfg config.HealthConfig, sink telemetry.Sink, sampler MemorySampler, now func() time.Time) *Monitor {
	if now == nil {
		now = time.Now
	}
	if sampler == nil {
		sampler = RuntimeSampler{Limit: cfg.MemoryLimitBytes}
	}
	m := &Monitor{
		cfg:        cfg,
		sink:       sink,
		sampler:    sampler,
		now:        now,
		components: make(map[string]*ComponentHealth),
	}
	m.snapshot.Store(&SystemHealth{
		OverallScore: 100,
		Components:   []ComponentHealth{},
		ActiveIssues: []string{},
		LastCheck:    now(),
	})
	return m
}

// SetHealer wires the component that services healing requests
func (m *Monitor) SetHealer(h Healer) {
	m.healerMu.Lock()
	m.healer = h
	m.healerMu.Unlock()
}

func (m *Monitor) getHealer() Healer {
	m.healerMu.RLock()
	defer m.healerMu.RUnlock()
	return m.healer
}

// lookup returns the record for name, creating it if needed. Must be
// called with m.mu held.
func (m *Monitor) lookup(name string) *ComponentHealth {
	c, ok := m.components[name]
	if !ok {
		c = &ComponentHealth{
			Name:        name,
			HealthScore: 100,
			Status:      StatusHealthy,
			UpdatedAt:   m.now(),
		}
		m.components[name] = c
		log.Debug().Str("component", name).Msg("Component registered for health monitoring")
	}
	return c
}

// ReportError records a component error. Crossing the critical threshold
// marks the component recovering and requests healing right away.
func (m *Monitor) ReportError(name string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	m.mu.Lock()
	now := m.now()
	c := m.lookup(name)
	c.ErrorCount++
	c.LastError = msg
	c.LastErrorAt = &now
	c.Performance.ErrorRate = float64(c.ErrorCount) / 10
	c.UpdatedAt = now
	errorCount := c.ErrorCount

	healer := m.getHealer()
	escalate := errorCount >= m.cfg.CriticalErrorThreshold && c.Status != StatusRecovering
	if escalate {
		c.Status = StatusRecovering
		c.healing = healer != nil
	}
	m.mu.Unlock()

	log.Warn().
		Str("component", name).
		Int("error_count", errorCount).
		Str("error", msg).
		Msg("Component error reported")

	if m.sink != nil {
		m.sink.Capture(telemetry.KindError, map[string]interface{}{
			"type":        "component_error",
			"component":   name,
			"message":     msg,
			"error_count": errorCount,
		}, telemetry.Context{ComponentName: name})
	}

	if escalate {
		log.Warn().Str("component", name).Int("error_count", errorCount).Msg("Component crossed critical error threshold")
		if healer != nil {
			healer.RequestComponentHealing(name)
		}
	}
}

// ReportPerformance records a render time (ms) and memory usage (MB) sample
func (m *Monitor) ReportPerformance(name string, renderTime, memoryUsage float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.lookup(name)
	c.Performance.RenderTime = renderTime
	c.Performance.MemoryUsage = memoryUsage
	c.UpdatedAt = m.now()
}

// BeginRecovery marks a component recovering and counts the attempt. It
// reports false for unknown components.
func (m *Monitor) BeginRecovery(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return false
	}
	c.Status = StatusRecovering
	c.RecoveryAttempts++
	c.healing = true
	c.UpdatedAt = m.now()
	return true
}

// CompleteRecovery closes a recovery started with BeginRecovery. Success
// forgives two errors and restores the component to healthy; failure
// leaves it recovering until the attempt budget runs out.
func (m *Monitor) CompleteRecovery(name string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return
	}
	c.UpdatedAt = m.now()

	if success {
		c.ErrorCount = max(0, c.ErrorCount-2)
		c.Performance.ErrorRate = float64(c.ErrorCount) / 10
		c.Status = StatusHealthy
		c.healing = false
		log.Info().Str("component", name).Int("error_count", c.ErrorCount).Msg("Component healed")
		return
	}

	c.Status = StatusRecovering
	if c.RecoveryAttempts >= m.cfg.MaxRecoveryAttempts {
		c.healing = false
		log.Error().Str("component", name).Int("attempts", c.RecoveryAttempts).Msg("Component recovery attempts exhausted")
		return
	}
	log.Warn().Str("component", name).Int("attempts", c.RecoveryAttempts).Msg("Component recovery failed, retry pending")
}

// Tick rescores every component, recomputes the active issues and
// publishes a new snapshot
func (m *Monitor) Tick() SystemHealth {
	used, limit := m.sampler.Sample()

	m.mu.Lock()
	now := m.now()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make([]ComponentHealth, 0, len(names))
	issues := []string{}
	total := 0
	for _, name := range names {
		c := m.components[name]
		c.HealthScore = Score(*c)
		if c.healing {
			c.Status = StatusRecovering
		} else {
			c.Status = StatusFor(c.HealthScore)
		}
		total += c.HealthScore
		if c.Status == StatusCritical || c.Status == StatusRecovering {
			issues = append(issues, fmt.Sprintf("%s: %s", name, c.Status))
		}
		components = append(components, *c)
	}
	m.mu.Unlock()

	overall := 100
	if len(components) > 0 {
		overall = int(math.Round(float64(total) / float64(len(components))))
	}
	if overall < 70 {
		issues = append(issues, IssuePerformanceDegraded)
	}
	if limit > 0 && float64(used) > float64(limit)*m.cfg.MemoryPressureRatio {
		issues = append(issues, IssueHighMemory)
	}

	sys := SystemHealth{
		OverallScore: overall,
		Components:   components,
		ActiveIssues: issues,
		LastCheck:    now,
	}
	m.snapshot.Store(&sys)

	instrument.OverallHealth.Set(float64(overall))
	for _, c := range components {
		instrument.ComponentHealth.WithLabelValues(c.Name).Set(float64(c.HealthScore))
	}

	if len(issues) > 0 {
		log.Info().Int("overall_score", overall).Strs("issues", issues).Msg("Health check found active issues")
	}

	if m.sink != nil {
		m.sink.Capture(telemetry.KindPerformance, map[string]interface{}{
			"type":          "health_check",
			"overall_score": overall,
			"components":    len(components),
			"active_issues": len(issues),
		}, telemetry.Context{ComponentName: "health_monitor"})
	}

	return copySystemHealth(sys)
}

// Snapshot returns the system health published by the last tick
func (m *Monitor) Snapshot() SystemHealth {
	return copySystemHealth(*m.snapshot.Load())
}

// Component returns the live record for one component
func (m *Monitor) Component(name string) (ComponentHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	return *c, true
}

// HandleGlobalError converts an uncaught error into telemetry and
// escalates to a global state reset when the system is badly degraded
func (m *Monitor) HandleGlobalError(source string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	log.Error().Str("source", source).Str("error", msg).Msg("Global error intercepted")

	if m.sink != nil {
		m.sink.Capture(telemetry.KindError, map[string]interface{}{
			"type":    "global_error",
			"source":  source,
			"message": msg,
		}, telemetry.Context{ComponentName: source})
	}

	if m.Snapshot().OverallScore < 50 {
		if h := m.getHealer(); h != nil {
			h.RequestStateReset("global")
		}
	}
}

// Recover intercepts a panic. Use it deferred: defer m.Recover("source").
func (m *Monitor) Recover(source string) {
	if r := recover(); r != nil {
		m.HandleGlobalError(source, fmt.Errorf("panic: %v", r))
	}
}

// Go runs fn in a goroutine whose panics are intercepted
func (m *Monitor) Go(source string, fn func()) {
	go func() {
		defer m.Recover(source)
		fn()
	}()
}

func copySystemHealth(s SystemHealth) SystemHealth {
	out := s
	out.Components = append([]ComponentHealth(nil), s.Components...)
	out.ActiveIssues = append([]string(nil), s.ActiveIssues...)
	if out.Components == nil {
		out.Components = []ComponentHealth{}
	}
	if out.ActiveIssues == nil {
		out.ActiveIssues = []string{}
	}
	return out
}
