package flow

import (
	"time"

	"github.com/dshills/stepflow-go/flow/emit"
	"github.com/dshills/stepflow-go/flow/store"
)

// Options configures conversation execution behavior. Zero values are
// valid; the engine falls back to sensible defaults.
type Options struct {
	// MaxSteps limits the number of step invocations per Execute call,
	// guarding control-edge loops that never exit. If 0, a default of
	// 1000 is used.
	MaxSteps int

	// DefaultStepTimeout bounds each step invocation unless the step's
	// own policy overrides it. Zero means unlimited.
	DefaultStepTimeout time.Duration

	// Emitter receives observability events. Nil disables emission.
	Emitter emit.Emitter

	// Metrics receives Prometheus metric updates. Nil disables them.
	Metrics *PrometheusMetrics

	// Store persists conversation snapshots. Required for AutoPersist
	// and ResumeFromStore.
	Store store.Store

	// AutoPersist writes a snapshot after every completed step and on
	// suspension, so a crashed process can resume mid-flow.
	AutoPersist bool

	// MaxConcurrentBranches bounds the goroutines a parallel MapStep
	// runs at once. If 0, a default of 8 is used.
	MaxConcurrentBranches int
}

const (
	defaultMaxSteps              = 1000
	defaultMaxConcurrentBranches = 8
)

func (o *Options) maxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

func (o *Options) maxConcurrent() int {
	if o.MaxConcurrentBranches > 0 {
		return o.MaxConcurrentBranches
	}
	return defaultMaxConcurrentBranches
}

// Option is a functional option applied at StartConversation.
type Option func(*Options)

// WithMaxSteps limits step invocations per Execute call.
func WithMaxSteps(n int) Option {
	return func(o *Options) { o.MaxSteps = n }
}

// WithDefaultStepTimeout sets the engine-wide step timeout.
func WithDefaultStepTimeout(d time.Duration) Option {
	return func(o *Options) { o.DefaultStepTimeout = d }
}

// WithEmitter routes execution events to the given emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(o *Options) { o.Emitter = e }
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithStore attaches a snapshot store.
func WithStore(st store.Store) Option {
	return func(o *Options) { o.Store = st }
}

// WithAutoPersist makes the driver snapshot after each step and on
// suspension. Requires WithStore.
func WithAutoPersist(enabled bool) Option {
	return func(o *Options) { o.AutoPersist = enabled }
}

// WithMaxConcurrentBranches bounds parallel MapStep concurrency.
func WithMaxConcurrentBranches(n int) Option {
	return func(o *Options) { o.MaxConcurrentBranches = n }
}
