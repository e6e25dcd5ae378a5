package models

import (
	"strconv"
	"strings"
	"time"
)

// TeamKind identifies the family a worker team belongs to.
// Dependencies between steps are derived from kinds.
type TeamKind string

const (
	// TeamKindSearch teams collect candidate documents. They never depend on other steps.
	TeamKindSearch TeamKind = "search"
	// TeamKindAnalysis teams reason over search output.
	TeamKindAnalysis TeamKind = "analysis"
	// TeamKindDocument teams render upstream output into a document.
	TeamKindDocument TeamKind = "document"
	// TeamKindCustom is used for dynamically resolved teams with no known family.
	TeamKindCustom TeamKind = "custom"
)

// Valid returns true if the kind is a known value.
func (k TeamKind) Valid() bool {
	switch k {
	case TeamKindSearch, TeamKindAnalysis, TeamKindDocument, TeamKindCustom:
		return true
	default:
		return false
	}
}

// TeamParams holds the domain-specific input of one team kind.
// The unexported method keeps the set of variants closed to this package.
type TeamParams interface {
	Kind() TeamKind
	cloneParams() TeamParams
}

// SearchParams are the inputs of a search team.
type SearchParams struct {
	Keywords []string `json:"keywords"`
	Sources  []string `json:"sources,omitempty"`
	Limit    int      `json:"limit"`
}

func (p SearchParams) Kind() TeamKind { return TeamKindSearch }

func (p SearchParams) cloneParams() TeamParams {
	p.Keywords = cloneStrings(p.Keywords)
	p.Sources = cloneStrings(p.Sources)
	return p
}

// AnalysisParams are the inputs of an analysis team.
type AnalysisParams struct {
	Focus  string `json:"focus"`
	Intent string `json:"intent"`
}

func (p AnalysisParams) Kind() TeamKind { return TeamKindAnalysis }

func (p AnalysisParams) cloneParams() TeamParams { return p }

// DocumentParams are the inputs of a document team.
type DocumentParams struct {
	Title  string `json:"title"`
	Format string `json:"format"`
}

func (p DocumentParams) Kind() TeamKind { return TeamKindDocument }

func (p DocumentParams) cloneParams() TeamParams { return p }

// GenericParams carries the raw step parameters for custom teams.
type GenericParams struct {
	Values map[string]string `json:"values"`
}

func (p GenericParams) Kind() TeamKind { return TeamKindCustom }

func (p GenericParams) cloneParams() TeamParams {
	p.Values = cloneStringMap(p.Values)
	return p
}

// DefaultSearchLimit caps the number of results a search team returns.
const DefaultSearchLimit = 10

// ParamsForStep builds the typed parameters of a step from its raw
// parameters and the run's intent.
func ParamsForStep(step ExecutionStep, intent Intent) TeamParams {
	switch step.Kind {
	case TeamKindSearch:
		limit := DefaultSearchLimit
		if n, err := strconv.Atoi(step.Params["limit"]); err == nil && n > 0 {
			limit = n
		}
		var sources []string
		if raw := step.Params["sources"]; raw != "" {
			for _, s := range strings.Split(raw, ",") {
				if s = strings.TrimSpace(s); s != "" {
					sources = append(sources, s)
				}
			}
		}
		return SearchParams{
			Keywords: cloneStrings(intent.Keywords),
			Sources:  sources,
			Limit:    limit,
		}
	case TeamKindAnalysis:
		focus := step.Params["focus"]
		if focus == "" {
			focus = string(intent.Type)
		}
		return AnalysisParams{Focus: focus, Intent: string(intent.Type)}
	case TeamKindDocument:
		format := step.Params["format"]
		if format == "" {
			format = "markdown"
		}
		return DocumentParams{Title: step.Params["title"], Format: format}
	default:
		return GenericParams{Values: cloneStringMap(step.Params)}
	}
}

// TeamState is the isolated state a team works on while it executes.
//
// It is only created through DeriveTeamState, which copies every map and
// slice, so nothing a team writes here is visible to other teams or to the
// RunState. Results reach the run only through RunState.MergeTeamResult.
type TeamState struct {
	SharedState

	// Team is the team label the step was planned for.
	Team string `json:"team"`
	// Kind is the team family.
	Kind TeamKind `json:"kind"`
	// StepID is the execution step being served.
	StepID string `json:"step_id"`
	// Params are the typed inputs for this team kind.
	Params TeamParams `json:"-"`
	// Upstream holds copies of the envelopes of the step's dependencies.
	Upstream map[string]ResultEnvelope `json:"upstream,omitempty"`
	// Results collects the team's output keyed by source.
	Results map[string]any `json:"results,omitempty"`
	// Status is the team-local status.
	Status StepStatus `json:"status"`
	// StartedAt is when the supervisor handed the state to the team.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the team finished.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Error is the team-local error, if any.
	Error string `json:"error,omitempty"`
}

// DeriveTeamState builds the state handed to a team for one step.
func DeriveTeamState(shared SharedState, step ExecutionStep, params TeamParams, upstream map[string]ResultEnvelope, now time.Time) TeamState {
	if params == nil {
		params = GenericParams{Values: cloneStringMap(step.Params)}
	}
	var up map[string]ResultEnvelope
	if len(upstream) > 0 {
		up = make(map[string]ResultEnvelope, len(upstream))
		for name, env := range upstream {
			up[name] = env.Clone()
		}
	}
	return TeamState{
		SharedState: shared,
		Team:        step.Team,
		Kind:        step.Kind,
		StepID:      step.ID,
		Params:      params.cloneParams(),
		Upstream:    up,
		Results:     make(map[string]any),
		Status:      StepInProgress,
		StartedAt:   now.UTC(),
	}
}

// AddResult records output from one source.
func (t *TeamState) AddResult(source string, value any) {
	if t.Results == nil {
		t.Results = make(map[string]any)
	}
	t.Results[source] = value
}

// Succeed builds the success envelope for this team.
// data may be nil, in which case the collected results are returned.
func (t *TeamState) Succeed(data map[string]any, now time.Time) ResultEnvelope {
	end := now.UTC()
	t.EndedAt = &end
	t.Status = StepCompleted
	if data == nil {
		data = map[string]any{"results": cloneMap(t.Results)}
	}
	return ResultEnvelope{
		Team:       t.Team,
		StepID:     t.StepID,
		Status:     EnvelopeSuccess,
		Data:       cloneMap(data),
		StartedAt:  t.StartedAt,
		FinishedAt: end,
	}
}

// Fail builds the failure envelope for this team.
func (t *TeamState) Fail(err error, now time.Time) ResultEnvelope {
	end := now.UTC()
	t.EndedAt = &end
	t.Status = StepFailed
	if err != nil {
		t.Error = err.Error()
	}
	return ResultEnvelope{
		Team:       t.Team,
		StepID:     t.StepID,
		Status:     EnvelopeFailure,
		Error:      t.Error,
		Reason:     FailureError,
		StartedAt:  t.StartedAt,
		FinishedAt: end,
	}
}

// EnvelopeStatus is the outcome reported by a team.
type EnvelopeStatus string

const (
	EnvelopeSuccess EnvelopeStatus = "success"
	EnvelopeFailure EnvelopeStatus = "failure"
)

// ResultEnvelope is what a team returns to the supervisor.
type ResultEnvelope struct {
	Team       string         `json:"team"`
	StepID     string         `json:"step_id"`
	Status     EnvelopeStatus `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Reason     FailureReason  `json:"reason,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// OK returns true for successful envelopes.
func (e ResultEnvelope) OK() bool {
	return e.Status == EnvelopeSuccess
}

// Duration returns how long the team ran.
func (e ResultEnvelope) Duration() time.Duration {
	if e.FinishedAt.IsZero() || e.StartedAt.IsZero() {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}

// Clone returns a deep copy of the envelope.
func (e ResultEnvelope) Clone() ResultEnvelope {
	e.Data = cloneMap(e.Data)
	return e
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types JSON decoding and teams produce.
// Scalars are immutable and returned as-is.
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(val)
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = cloneMap(item)
		}
		return out
	case map[string]string:
		return cloneStringMap(val)
	default:
		return v
	}
}
