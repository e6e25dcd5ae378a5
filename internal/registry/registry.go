// Package registry maps logical team names to their implementations.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrNotFound is returned by Lookup for names with no entry.
	ErrNotFound = errors.New("team not registered")
	// ErrUnavailable is returned by stand-in teams that could not be resolved.
	ErrUnavailable = errors.New("team unavailable")
)

// Team is a worker team. Execute receives an isolated TeamState and must
// not retain it after returning.
type Team interface {
	Execute(ctx context.Context, state models.TeamState) (models.ResultEnvelope, error)
}

// TeamFunc adapts a function to the Team interface.
type TeamFunc func(ctx context.Context, state models.TeamState) (models.ResultEnvelope, error)

// Execute calls f.
func (f TeamFunc) Execute(ctx context.Context, state models.TeamState) (models.ResultEnvelope, error) {
	return f(ctx, state)
}

// Capabilities describes what a team consumes and produces.
type Capabilities struct {
	Kind    models.TeamKind `json:"kind"`
	Inputs  []string        `json:"inputs,omitempty"`
	Outputs []string        `json:"outputs,omitempty"`
}

// Entry is one registered team.
type Entry struct {
	Name         string
	Team         Team
	Capabilities Capabilities
	Priority     int
	Enabled      bool
	// Available is false for stand-ins returned when resolution failed.
	Available bool
}

// Usable reports whether the entry can be scheduled.
func (e Entry) Usable() bool {
	return e.Enabled && e.Available && e.Team != nil
}

// Descriptor is the serializable view of an entry.
type Descriptor struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
	Priority     int          `json:"priority"`
	Enabled      bool         `json:"enabled"`
	Available    bool         `json:"available"`
}

// Factory tries to build a team for a candidate name. It returns false
// when it does not know the name.
type Factory func(name string) (Team, Capabilities, bool)

// Registry is a concurrency-safe table of teams. It is read-mostly:
// registration normally happens once at start-up.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	factories []Factory
	logger    *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithFactories sets the ordered factories used by ResolveDynamic.
func WithFactories(f ...Factory) Option {
	return func(r *Registry) {
		r.factories = append(r.factories, f...)
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]Entry),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores or overwrites the entry for name.
func (r *Registry) Register(name string, team Team, caps Capabilities, priority int, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = Entry{
		Name:         name,
		Team:         team,
		Capabilities: caps,
		Priority:     priority,
		Enabled:      enabled,
		Available:    team != nil,
	}
	r.logger.Debug("registered team", zap.String("team", name), zap.Bool("enabled", enabled))
}

// AddFactory appends a factory to the resolution chain.
func (r *Registry) AddFactory(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = append(r.factories, f)
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return e, nil
}

// Resolve returns the registered entry for name, falling back to
// ResolveDynamic.
func (r *Registry) Resolve(name string) Entry {
	if e, err := r.Lookup(name); err == nil {
		return e
	}
	return r.ResolveDynamic(name)
}

// ResolveDynamic resolves a name that has no entry by trying every
// factory against a small set of candidate spellings. A successful
// resolution is registered under name. When nothing matches, an
// unavailable stand-in is returned whose Execute always fails with
// ErrUnavailable; it is not registered so later factories can still win.
func (r *Registry) ResolveDynamic(name string) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[name]; ok {
		return e
	}

	for _, candidate := range CandidateNames(name) {
		for _, f := range r.factories {
			team, caps, ok := f(candidate)
			if !ok || team == nil {
				continue
			}
			e := Entry{
				Name:         name,
				Team:         team,
				Capabilities: caps,
				Enabled:      true,
				Available:    true,
			}
			r.entries[name] = e
			r.logger.Info("resolved team dynamically",
				zap.String("team", name),
				zap.String("candidate", candidate))
			return e
		}
	}

	r.logger.Warn("team could not be resolved", zap.String("team", name))
	return unavailable(name)
}

// SetEnabled toggles an entry. It returns false for unknown names.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return false
	}
	e.Enabled = enabled
	r.entries[name] = e
	return true
}

// List returns a descriptor for every entry.
func (r *Registry) List() map[string]Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Descriptor, len(r.entries))
	for name, e := range r.entries {
		out[name] = Descriptor{
			Name:         name,
			Capabilities: e.Capabilities,
			Priority:     e.Priority,
			Enabled:      e.Enabled,
			Available:    e.Available,
		}
	}
	return out
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unavailable(name string) Entry {
	return Entry{
		Name: name,
		Team: TeamFunc(func(_ context.Context, st models.TeamState) (models.ResultEnvelope, error) {
			err := fmt.Errorf("%w: %s", ErrUnavailable, name)
			env := st.Fail(err, time.Now())
			env.Reason = models.FailureUnavailable
			return env, err
		}),
		Capabilities: Capabilities{Kind: models.TeamKindCustom},
		Enabled:      true,
		Available:    false,
	}
}

// CandidateNames returns the spellings tried for a dynamic lookup, in
// order and without duplicates: the name itself, its snake_case form, the
// form with a "_team" suffix and the form with "_team" or "_agent" removed.
func CandidateNames(name string) []string {
	snake := toSnake(name)
	base := strings.TrimSuffix(strings.TrimSuffix(snake, "_team"), "_agent")

	var out []string
	seen := make(map[string]bool)
	for _, c := range []string{name, snake, base + "_team", base} {
		if c == "" || c == "_team" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func toSnake(s string) string {
	var b strings.Builder
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteRune('_')
		case unicode.IsUpper(r):
			if i > 0 && runes[i-1] != '_' && runes[i-1] != '-' && runes[i-1] != ' ' && !unicode.IsUpper(runes[i-1]) {
				b.WriteRune('_')
			}
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
