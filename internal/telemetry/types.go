package telemetry

import (
	"time"
)

// Kind classifies a captured event
type Kind string

const (
	KindInteraction Kind = "interaction"
	KindNavigation  Kind = "navigation"
	KindLearning    Kind = "learning"
	KindPerformance Kind = "performance"
	KindError       Kind = "error"
)

// Kinds lists every known event kind
var Kinds = []Kind{KindInteraction, KindNavigation, KindLearning, KindPerformance, KindError}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Context locates an event in the UI. Empty fields passed as overrides to
// Capture are filled from the collector's defaults.
type Context struct {
	Route         string `json:"route"`
	ComponentName string `json:"component"`
	SessionID     string `json:"session"`
}

// Signature is the per-event derived scalar tuple, each value in [0,1]
type Signature struct {
	Engagement       float64 `json:"engagement"`
	CognitiveLoad    float64 `json:"cognitive_load"`
	AttentionFocus   float64 `json:"attention_focus"`
	LearningVelocity float64 `json:"learning_velocity"`
}

// Event is an immutable captured telemetry record. Payload is shared with
// readers and must not be modified after capture.
type Event struct {
	ID        string                 `json:"id"`
	Kind      Kind                   `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	UserID    string                 `json:"user_id,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	Context   Context                `json:"context"`
	Signature Signature              `json:"signature"`
}

// Sink accepts new telemetry. Health, healing and aggregation components
// hold a Sink to feed their outcomes back into the event stream.
type Sink interface {
	Capture(kind Kind, payload map[string]interface{}, overrides Context) Event
}

// SessionStats summarizes the collector's session
type SessionStats struct {
	SessionID         string        `json:"session_id"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"session_duration"`
	TotalInteractions int64         `json:"total_interactions"`
	EventsCount       int           `json:"events_count"`
}
