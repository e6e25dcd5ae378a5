package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/internal/state"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Planner turns a query into an intent and a validated execution plan.
type Planner interface {
	Plan(ctx context.Context, query string) (models.Intent, *models.ExecutionPlan)
}

// Journal persists run state. *state.Journal implements it.
type Journal interface {
	Open(ctx context.Context, runID string) (*state.Handle, error)
	GetState(ctx context.Context, runID string) (*models.RunState, error)
	PutStateDelta(ctx context.Context, runID string, delta *models.RunStateDelta) error
	Close(runID string) error
}

// Completer renders a prompt through the LLM gateway.
type Completer interface {
	Complete(ctx context.Context, promptName string, vars map[string]any, opts ...api.CallOption) (string, error)
}

// RequiredConfig contains the collaborators a Supervisor cannot run without.
type RequiredConfig struct {
	// Planner classifies queries and builds plans.
	Planner Planner
	// Registry resolves team names to teams.
	Registry *registry.Registry
	// Journal stores run snapshots and deltas.
	Journal Journal
}

// DefaultMaxParallel bounds concurrent team invocations in one group.
const DefaultMaxParallel = 4

// Option configures a Supervisor. Use With* functions to create Options.
type Option func(*supervisorOptions)

type supervisorOptions struct {
	logger      *zap.Logger
	synthesizer Completer
	maxParallel int
	events      *EventEmitter
	now         func() time.Time
	defaults    ContextOptions
}

// WithLogger sets the supervisor logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *supervisorOptions) { o.logger = l }
}

// WithSynthesizer enables final answer synthesis through the gateway.
// Without it, answers are summarized deterministically.
func WithSynthesizer(c Completer) Option {
	return func(o *supervisorOptions) { o.synthesizer = c }
}

// WithMaxParallel sets the maximum number of concurrent team invocations
// within a parallel group.
func WithMaxParallel(n int) Option {
	return func(o *supervisorOptions) { o.maxParallel = n }
}

// WithEvents sets the emitter that receives events of traced runs.
func WithEvents(e *EventEmitter) Option {
	return func(o *supervisorOptions) { o.events = e }
}

// WithClock overrides time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(o *supervisorOptions) { o.now = now }
}

// WithDefaults sets the options used for zero fields of a run's ContextOptions.
func WithDefaults(c ContextOptions) Option {
	return func(o *supervisorOptions) { o.defaults = c }
}

// ContextOptions are the per-run caller options.
type ContextOptions struct {
	// Language is the response language. Defaults to "en".
	Language string
	// DebugMode logs per-step details at info level.
	DebugMode bool
	// TraceEnabled emits SupervisorEvents for the run.
	TraceEnabled bool
	// TimeoutSeconds bounds each team invocation. Defaults to 30.
	TimeoutSeconds int
	// RecursionLimit bounds the number of team invocations in a run. Defaults to 25.
	RecursionLimit int
}

// Defaults for ContextOptions.
const (
	DefaultTimeoutSeconds = 30
	DefaultRecursionLimit = 25
)

// DefaultContextOptions returns the options used when a caller sets none.
func DefaultContextOptions() ContextOptions {
	return ContextOptions{
		Language:       models.DefaultLanguage,
		TimeoutSeconds: DefaultTimeoutSeconds,
		RecursionLimit: DefaultRecursionLimit,
	}
}

// withDefaults fills zero fields from d, then from the package defaults.
func (c ContextOptions) withDefaults(d ContextOptions) ContextOptions {
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = d.TimeoutSeconds
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = d.RecursionLimit
	}
	def := DefaultContextOptions()
	if c.Language == "" {
		c.Language = def.Language
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = def.TimeoutSeconds
	}
	if c.RecursionLimit <= 0 {
		c.RecursionLimit = def.RecursionLimit
	}
	return c
}

// StepTimeout returns the per-step timeout as a duration.
func (c ContextOptions) StepTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
