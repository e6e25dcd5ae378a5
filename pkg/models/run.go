package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrTerminalRun is returned when a mutation is attempted on a finished run.
var ErrTerminalRun = errors.New("run is terminal")

// ErrorEntry is one line of a run's append-only error log.
type ErrorEntry struct {
	Time    time.Time     `json:"time"`
	Team    string        `json:"team,omitempty"`
	StepID  string        `json:"step_id,omitempty"`
	Reason  FailureReason `json:"reason,omitempty"`
	Message string        `json:"message"`
}

// String formats the entry for logs and CLI output.
func (e ErrorEntry) String() string {
	if e.Team == "" {
		return e.Message
	}
	if e.Reason != FailureNone {
		return fmt.Sprintf("%s (%s): %s", e.Team, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Team, e.Message)
}

// RunState is the supervisor's authoritative record of one run.
//
// Only the supervisor mutates a RunState, and only through the methods
// below; the journal rebuilds it by applying RunStateDelta values.
type RunState struct {
	RunID  string         `json:"run_id"`
	Shared SharedState    `json:"shared"`
	Intent *Intent        `json:"intent,omitempty"`
	Plan   *ExecutionPlan `json:"plan,omitempty"`
	Phase  Phase          `json:"phase"`

	Teams             TeamSets                  `json:"teams"`
	TeamResults       map[string]ResultEnvelope `json:"team_results"`
	AggregatedResults map[string]any            `json:"aggregated_results,omitempty"`
	FinalResponse     *FinalResponse            `json:"final_response,omitempty"`

	ErrorLog    []ErrorEntry `json:"error_log,omitempty"`
	ErrorReason ErrorReason  `json:"error_reason,omitempty"`
	Invocations int          `json:"invocations"`

	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewRunState creates the state of a run in the initializing phase.
func NewRunState(shared SharedState) *RunState {
	return &RunState{
		RunID:       shared.RunID,
		Shared:      shared,
		Phase:       PhaseInitializing,
		TeamResults: make(map[string]ResultEnvelope),
		StartedAt:   shared.CreatedAt,
		UpdatedAt:   shared.CreatedAt,
	}
}

// Status returns the overall run status.
func (r *RunState) Status() RunStatus {
	return r.Shared.Status
}

// Terminal reports whether the run has finished.
func (r *RunState) Terminal() bool {
	return r.Shared.Status.Terminal()
}

// SetPhase moves the run to a new phase.
func (r *RunState) SetPhase(p Phase, now time.Time) {
	r.Phase = p
	r.touch(now)
}

// SetStatus updates the run status. Terminal statuses stamp CompletedAt.
func (r *RunState) SetStatus(s RunStatus, message string, now time.Time) {
	r.Shared.Status = s
	r.Shared.ErrorMessage = message
	r.touch(now)
	if s.Terminal() {
		t := r.UpdatedAt
		r.CompletedAt = &t
	}
}

// Fail moves the run to the error phase and status.
func (r *RunState) Fail(reason ErrorReason, message string, now time.Time) {
	r.ErrorReason = reason
	r.Phase = PhaseError
	r.SetStatus(RunStatusError, message, now)
}

// AppendError adds an entry to the error log.
func (r *RunState) AppendError(e ErrorEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	r.ErrorLog = append(r.ErrorLog, e)
}

// MarkActive moves a team into the active set.
func (r *RunState) MarkActive(team string) {
	r.Teams.move(team, &r.Teams.Active)
}

// MarkCompleted moves a team into the completed set.
func (r *RunState) MarkCompleted(team string) {
	r.Teams.move(team, &r.Teams.Completed)
}

// MarkFailed moves a team into the failed set.
func (r *RunState) MarkFailed(team string) {
	r.Teams.move(team, &r.Teams.Failed)
}

// MarkSkipped moves a team into the skipped set.
func (r *RunState) MarkSkipped(team string) {
	r.Teams.move(team, &r.Teams.Skipped)
}

// MarkPending removes a team from every set. Resume uses it for teams
// that were active when a run was interrupted.
func (r *RunState) MarkPending(team string) {
	r.Teams.move(team, nil)
}

// SetStepStatus updates the runtime status of a plan step.
func (r *RunState) SetStepStatus(stepID string, s StepStatus) bool {
	step := r.Plan.Step(stepID)
	if step == nil {
		return false
	}
	step.Status = s
	return true
}

// MergeTeamResult records a team's envelope and moves the team to the
// completed or failed set. It is the only path from a TeamState back into
// the run.
func (r *RunState) MergeTeamResult(env ResultEnvelope) {
	if r.TeamResults == nil {
		r.TeamResults = make(map[string]ResultEnvelope)
	}
	r.TeamResults[env.Team] = env.Clone()
	if env.OK() {
		r.MarkCompleted(env.Team)
		r.SetStepStatus(env.StepID, StepCompleted)
		return
	}
	r.MarkFailed(env.Team)
	r.SetStepStatus(env.StepID, StepFailed)
}

// StepStatuses returns step id to status for the current plan.
func (r *RunState) StepStatuses() map[string]StepStatus {
	if r.Plan == nil {
		return nil
	}
	out := make(map[string]StepStatus, len(r.Plan.Steps))
	for _, s := range r.Plan.Steps {
		out[s.ID] = s.Status
	}
	return out
}

func (r *RunState) touch(now time.Time) {
	r.UpdatedAt = now.UTC()
}

// Clone returns a deep copy of the run state.
func (r *RunState) Clone() *RunState {
	if r == nil {
		return nil
	}
	c := *r
	if r.Intent != nil {
		in := r.Intent.Clone()
		c.Intent = &in
	}
	c.Plan = r.Plan.Clone()
	c.Teams = r.Teams.Clone()
	if r.TeamResults != nil {
		c.TeamResults = make(map[string]ResultEnvelope, len(r.TeamResults))
		for k, v := range r.TeamResults {
			c.TeamResults[k] = v.Clone()
		}
	}
	c.AggregatedResults = cloneMap(r.AggregatedResults)
	c.FinalResponse = r.FinalResponse.Clone()
	if r.ErrorLog != nil {
		c.ErrorLog = append([]ErrorEntry(nil), r.ErrorLog...)
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// PublicRun is the subset of a run exposed to outer surfaces.
type PublicRun struct {
	RunID         string                    `json:"run_id"`
	Status        RunStatus                 `json:"status"`
	ErrorMessage  string                    `json:"error_message,omitempty"`
	FinalResponse *FinalResponse            `json:"final_response,omitempty"`
	TeamResults   map[string]ResultEnvelope `json:"team_results,omitempty"`
	Errors        []string                  `json:"errors,omitempty"`
	StartedAt     time.Time                 `json:"started_at"`
	CompletedAt   *time.Time                `json:"completed_at,omitempty"`
	DurationMS    int64                     `json:"duration_ms"`
}

// Public returns the public view of the run.
func (r *RunState) Public() PublicRun {
	c := r.Clone()
	p := PublicRun{
		RunID:         c.RunID,
		Status:        c.Shared.Status,
		ErrorMessage:  c.Shared.ErrorMessage,
		FinalResponse: c.FinalResponse,
		TeamResults:   c.TeamResults,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
	}
	for _, e := range c.ErrorLog {
		p.Errors = append(p.Errors, e.String())
	}
	end := c.UpdatedAt
	if c.CompletedAt != nil {
		end = *c.CompletedAt
	}
	p.DurationMS = end.Sub(c.StartedAt).Milliseconds()
	return p
}
