package engine

import (
	"time"

	"github.com/gosight/neuroloop/internal/health"
	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/state"
)

type options struct {
	store    state.Store
	now      func() time.Time
	jitter   func() float64
	random   func() float64
	sampler  health.MemorySampler
	reloader healing.Reloader
	session  string
}

// Option configures an Engine
type Option func(*options)

// WithStateStore sets the client state store cleared by state_reset
func WithStateStore(s state.Store) Option {
	return func(o *options) { o.store = s }
}

// WithClock replaces time.Now everywhere in the pipeline
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithJitter replaces the engagement jitter source
func WithJitter(jitter func() float64) Option {
	return func(o *options) { o.jitter = jitter }
}

// WithRandom replaces the source of applied adaptation effectiveness
func WithRandom(rnd func() float64) Option {
	return func(o *options) { o.random = rnd }
}

// WithMemorySampler replaces the Go heap sampler
func WithMemorySampler(s health.MemorySampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithReloader sets the process reload used by emergency recovery
func WithReloader(r healing.Reloader) Option {
	return func(o *options) { o.reloader = r }
}

// WithSessionID fixes the session id
func WithSessionID(id string) Option {
	return func(o *options) { o.session = id }
}
