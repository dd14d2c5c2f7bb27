package health

import (
	"math"
	"runtime"
	"runtime/debug"
	"time"
)

// Status is a component health status
type Status string

const (
	StatusHealthy    Status = "healthy"
	StatusWarning    Status = "warning"
	StatusCritical   Status = "critical"
	StatusRecovering Status = "recovering"
)

// Active issue tags for system-level conditions
const (
	IssuePerformanceDegraded = "system_performance_degraded"
	IssueHighMemory          = "high_memory_usage"
)

// PerformanceMetrics are the latest samples reported for a component
type PerformanceMetrics struct {
	RenderTime  float64 `json:"render_time"`
	MemoryUsage float64 `json:"memory_usage"`
	ErrorRate   float64 `json:"error_rate"`
}

// ComponentHealth is the health record of one named component
type ComponentHealth struct {
	Name             string             `json:"component_name"`
	HealthScore      int                `json:"health_score"`
	Status           Status             `json:"status"`
	ErrorCount       int                `json:"error_count"`
	RecoveryAttempts int                `json:"recovery_attempts"`
	LastError        string             `json:"last_error,omitempty"`
	LastErrorAt      *time.Time         `json:"last_error_at,omitempty"`
	Performance      PerformanceMetrics `json:"performance_metrics"`
	UpdatedAt        time.Time          `json:"updated_at"`

	// healing is set while a heal is running or has exhausted its
	// strategies; the status stays recovering until it clears
	healing bool
}

// SystemHealth is the process-wide health aggregate
type SystemHealth struct {
	OverallScore int               `json:"overall_score"`
	Components   []ComponentHealth `json:"components"`
	ActiveIssues []string          `json:"active_issues"`
	LastCheck    time.Time         `json:"last_check"`
}

// Healer receives healing requests raised by the monitor. Both calls must
// return without waiting for the heal to finish.
type Healer interface {
	RequestComponentHealing(component string)
	RequestStateReset(target string)
}

// MemorySampler reports current memory use against a limit. A zero limit
// disables the memory pressure check.
type MemorySampler interface {
	Sample() (used, limit uint64)
}

// RuntimeSampler samples the Go heap against a fixed limit. A zero Limit
// falls back to the runtime soft memory limit (GOMEMLIMIT) when one is set.
type RuntimeSampler struct {
	Limit uint64
}

// Sample reads the live heap size
func (s RuntimeSampler) Sample() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := s.Limit
	if limit == 0 {
		limit = softMemoryLimit()
	}
	return ms.HeapAlloc, limit
}

// softMemoryLimit returns the runtime memory limit, or 0 when unlimited
func softMemoryLimit() uint64 {
	limit := debug.SetMemoryLimit(-1)
	if limit <= 0 || limit == math.MaxInt64 {
		return 0
	}
	return uint64(limit)
}

// SamplerFunc adapts a plain function to MemorySampler
type SamplerFunc func() (uint64, uint64)

// Sample calls f()
func (f SamplerFunc) Sample() (uint64, uint64) { return f() }

// Score computes a component health score: 100 minus the capped error
// penalty and the render and memory penalties, floored at 10
func Score(c ComponentHealth) int {
	score := 100
	errorPenalty := c.ErrorCount * 5
	if errorPenalty > 50 {
		errorPenalty = 50
	}
	score -= errorPenalty
	if c.Performance.RenderTime > 100 {
		score -= 20
	}
	if c.Performance.MemoryUsage > 50 {
		score -= 15
	}
	if score < 10 {
		score = 10
	}
	return score
}

// StatusFor maps a health score to a status
func StatusFor(score int) Status {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusWarning
	case score >= 30:
		return StatusCritical
	default:
		return StatusRecovering
	}
}
