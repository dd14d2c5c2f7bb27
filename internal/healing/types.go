package healing

import (
	"context"
	"errors"
	"time"
)

// Built-in strategy names
const (
	StrategyMemoryCleanup           = "memory_cleanup"
	StrategyStateReset              = "state_reset"
	StrategyPerformanceOptimization = "performance_optimization"
	StrategyComponentRefresh        = "component_refresh"
)

// ErrStrategyNotFound is logged when healing names an unregistered strategy
var ErrStrategyNotFound = errors.New("healing strategy not found")

// Strategy is a named, idempotent remediation routine
type Strategy interface {
	Execute(ctx context.Context, target string) (bool, error)
}

// StrategyFunc adapts a plain function to Strategy
type StrategyFunc func(ctx context.Context, target string) (bool, error)

// Execute calls f(ctx, target)
func (f StrategyFunc) Execute(ctx context.Context, target string) (bool, error) {
	return f(ctx, target)
}

// Priority ranks a recovery action
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// RecoveryAction is one executed remediation
type RecoveryAction struct {
	ID          string        `json:"id"`
	Strategy    string        `json:"strategy"`
	Target      string        `json:"target"`
	Description string        `json:"description"`
	Priority    Priority      `json:"priority"`
	AutoExecute bool          `json:"auto_execute"`
	ExecutedAt  time.Time     `json:"execution_time"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}
