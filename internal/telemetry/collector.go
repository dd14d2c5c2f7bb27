package telemetry

import (
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/neuroloop/internal/config"
	"github.com/gosight/neuroloop/internal/instrument"
)

// Base engagement per event kind, before jitter
var baseEngagement = map[Kind]float64{
	KindInteraction: 0.8,
	KindNavigation:  0.6,
	KindLearning:    0.9,
	KindPerformance: 0.7,
	KindError:       0.3,
}

const (
	unknownEngagement = 0.5
	attentionSpan     = 10 * time.Second
	attentionFloor    = 0.2
)

// Collector captures telemetry events into a bounded, time-boxed log
type Collector struct {
	mu               sync.RWMutex
	events           []Event
	capacity         int
	retention        time.Duration
	maxPayloadBytes  int
	sessionID        string
	sessionStart     time.Time
	currentRoute     string
	interactionCount int64
	lastCapture      time.Time

	hooksMu sync.RWMutex
	hooks   []func(Event)

	now    func() time.Time
	jitter func() float64
}

// Option configures a Collector
type Option func(*Collector)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithJitter replaces the engagement jitter source. The function should
// return values in [-0.1, 0.1).
func WithJitter(jitter func() float64) Option {
	return func(c *Collector) { c.jitter = jitter }
}

// WithSessionID fixes the session id instead of generating one
func WithSessionID(id string) Option {
	return func(c *Collector) { c.sessionID = id }
}

// NewCollector creates a new telemetry collector
func NewCollector(cfg config.TelemetryConfig, opts ...Option) *Collector {
	c := &Collector{
		capacity:        cfg.BufferSize,
		retention:       cfg.Retention,
		maxPayloadBytes: cfg.MaxPayloadBytes,
		currentRoute:    cfg.DefaultRoute,
		now:             time.Now,
		jitter:          func() float64 { return rand.Float64()*0.2 - 0.1 },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.capacity <= 0 {
		c.capacity = 1000
	}
	if c.sessionID == "" {
		c.sessionID = "session_" + uuid.NewString()
	}
	c.sessionStart = c.now()
	c.events = make([]Event, 0, c.capacity)
	return c
}

// OnCapture registers a hook called after every capture, outside the
// collector lock. Hooks may capture further events.
func (c *Collector) OnCapture(fn func(Event)) {
	c.hooksMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hooksMu.Unlock()
}

// Capture records a new event. It never fails: payloads are opaque and
// the signature always gets a value.
func (c *Collector) Capture(kind Kind, payload map[string]interface{}, overrides Context) Event {
	if !kind.Valid() {
		log.Warn().Str("kind", string(kind)).Msg("Unknown telemetry kind captured")
	}

	data := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		data[k] = v
	}
	size := c.payloadSize(kind, data)

	c.mu.Lock()
	now := c.now()

	if kind == KindNavigation && overrides.Route != "" {
		c.currentRoute = overrides.Route
	}
	ctx := Context{
		Route:         c.currentRoute,
		ComponentName: "unknown",
		SessionID:     c.sessionID,
	}
	if overrides.Route != "" {
		ctx.Route = overrides.Route
	}
	if overrides.ComponentName != "" {
		ctx.ComponentName = overrides.ComponentName
	}
	if overrides.SessionID != "" {
		ctx.SessionID = overrides.SessionID
	}

	event := Event{
		ID:        "neural_" + uuid.NewString(),
		Kind:      kind,
		Timestamp: now,
		Payload:   data,
		Context:   ctx,
		Signature: c.signature(kind, size, now),
	}
	if v, ok := data["user_id"].(string); ok {
		event.UserID = v
	}

	c.events = append(c.events, event)
	if overflow := len(c.events) - c.capacity; overflow > 0 {
		copy(c.events, c.events[overflow:])
		c.events = c.events[:c.capacity]
	}
	c.interactionCount++
	c.lastCapture = now
	c.mu.Unlock()

	instrument.EventsCaptured.WithLabelValues(string(kind)).Inc()
	log.Debug().
		Str("kind", string(kind)).
		Str("route", ctx.Route).
		Float64("engagement", event.Signature.Engagement).
		Msg("Telemetry event captured")

	c.hooksMu.RLock()
	hooks := c.hooks
	c.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(event)
	}

	return event
}

func (c *Collector) payloadSize(kind Kind, payload map[string]interface{}) int {
	if len(payload) == 0 {
		return 2
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn().Err(err).Str("kind", string(kind)).Msg("Telemetry payload is not serializable")
		return 0
	}
	if c.maxPayloadBytes > 0 && len(raw) > c.maxPayloadBytes {
		log.Warn().
			Str("kind", string(kind)).
			Int("bytes", len(raw)).
			Int("limit", c.maxPayloadBytes).
			Msg("Oversized telemetry payload")
	}
	return len(raw)
}

// signature must be called with c.mu held
func (c *Collector) signature(kind Kind, payloadBytes int, now time.Time) Signature {
	engagement, ok := baseEngagement[kind]
	if !ok {
		engagement = unknownEngagement
	}
	engagement += c.jitter()

	cognitiveLoad := float64(payloadBytes)/1000*0.5 + 0.3

	attention := 1.0
	if !c.lastCapture.IsZero() {
		gap := now.Sub(c.lastCapture)
		attention = math.Max(attentionFloor, 1-float64(gap)/float64(attentionSpan))
	}

	elapsedMs := float64(now.Sub(c.sessionStart).Milliseconds())
	if elapsedMs < 1 {
		elapsedMs = 1
	}
	velocity := float64(c.interactionCount) / elapsedMs * 100000

	return Signature{
		Engagement:       clamp01(engagement),
		CognitiveLoad:    clamp01(cognitiveLoad),
		AttentionFocus:   clamp01(attention),
		LearningVelocity: clamp01(velocity),
	}
}

// Recent returns a copy of the last n events, oldest first
func (c *Collector) Recent(n int) []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 || n > len(c.events) {
		n = len(c.events)
	}
	out := make([]Event, n)
	copy(out, c.events[len(c.events)-n:])
	return out
}

// Len returns the number of retained events
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// Cleanup drops events older than the retention window and returns how
// many were removed
func (c *Collector) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.retention)
	kept := c.events[:0]
	for _, e := range c.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(c.events) - len(kept)
	for i := len(kept); i < len(c.events); i++ {
		c.events[i] = Event{}
	}
	c.events = kept

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Expired telemetry events purged")
	}
	return removed
}

// Purge satisfies the memory cleanup strategy's purger contract
func (c *Collector) Purge() {
	c.Cleanup()
}

// SessionStart returns when the session began
func (c *Collector) SessionStart() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionStart
}

// SessionID returns the default session id stamped on events
func (c *Collector) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// CurrentRoute returns the last route seen on a navigation event
func (c *Collector) CurrentRoute() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentRoute
}

// Now returns the collector's clock reading
func (c *Collector) Now() time.Time {
	return c.now()
}

// Stats returns session counters
func (c *Collector) Stats() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return SessionStats{
		SessionID:         c.sessionID,
		StartedAt:         c.sessionStart,
		Duration:          c.now().Sub(c.sessionStart),
		TotalInteractions: c.interactionCount,
		EventsCount:       len(c.events),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
