package models

import "time"

// RunStateDelta is a partial update to a RunState.
//
// Nil fields are left untouched. TeamResults and StepStatuses merge into
// the existing maps, AppendErrors is appended to the error log, and Teams
// replaces the membership sets wholesale so disjointness is preserved.
type RunStateDelta struct {
	// Reset discards any previous state for the run id before applying.
	Reset bool `json:"reset,omitempty"`

	Shared       *SharedState   `json:"shared,omitempty"`
	Intent       *Intent        `json:"intent,omitempty"`
	Plan         *ExecutionPlan `json:"plan,omitempty"`
	Phase        *Phase         `json:"phase,omitempty"`
	Status       *RunStatus     `json:"status,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	ErrorReason  *ErrorReason   `json:"error_reason,omitempty"`

	StepStatuses      map[string]StepStatus     `json:"step_statuses,omitempty"`
	Teams             *TeamSets                 `json:"teams,omitempty"`
	TeamResults       map[string]ResultEnvelope `json:"team_results,omitempty"`
	AggregatedResults map[string]any            `json:"aggregated_results,omitempty"`
	FinalResponse     *FinalResponse            `json:"final_response,omitempty"`
	AppendErrors      []ErrorEntry              `json:"append_errors,omitempty"`
	Invocations       *int                      `json:"invocations,omitempty"`

	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsEmpty reports whether applying the delta would change nothing.
func (d *RunStateDelta) IsEmpty() bool {
	if d == nil {
		return true
	}
	return !d.Reset && d.Shared == nil && d.Intent == nil && d.Plan == nil &&
		d.Phase == nil && d.Status == nil && d.ErrorMessage == nil &&
		d.ErrorReason == nil && len(d.StepStatuses) == 0 && d.Teams == nil &&
		len(d.TeamResults) == 0 && d.AggregatedResults == nil &&
		d.FinalResponse == nil && len(d.AppendErrors) == 0 &&
		d.Invocations == nil && d.UpdatedAt == nil && d.CompletedAt == nil
}

// Apply merges the delta into r. A nil r is only valid with Reset or
// Shared set; Apply then returns a fresh state.
func (d *RunStateDelta) Apply(r *RunState) *RunState {
	if d == nil {
		return r
	}
	if d.Reset || r == nil {
		shared := SharedState{}
		if d.Shared != nil {
			shared = *d.Shared
		} else if r != nil {
			shared = r.Shared
		}
		r = NewRunState(shared)
	}
	if d.Shared != nil {
		r.Shared = *d.Shared
		r.RunID = d.Shared.RunID
	}
	if d.Intent != nil {
		in := d.Intent.Clone()
		r.Intent = &in
	}
	if d.Plan != nil {
		r.Plan = d.Plan.Clone()
	}
	if d.Phase != nil {
		r.Phase = *d.Phase
	}
	if d.Status != nil {
		r.Shared.Status = *d.Status
	}
	if d.ErrorMessage != nil {
		r.Shared.ErrorMessage = *d.ErrorMessage
	}
	if d.ErrorReason != nil {
		r.ErrorReason = *d.ErrorReason
	}
	if r.Plan != nil {
		for id, st := range d.StepStatuses {
			r.SetStepStatus(id, st)
		}
	}
	if d.Teams != nil {
		r.Teams = d.Teams.Clone()
	}
	if len(d.TeamResults) > 0 {
		if r.TeamResults == nil {
			r.TeamResults = make(map[string]ResultEnvelope, len(d.TeamResults))
		}
		for name, env := range d.TeamResults {
			r.TeamResults[name] = env.Clone()
		}
	}
	if d.AggregatedResults != nil {
		r.AggregatedResults = cloneMap(d.AggregatedResults)
	}
	if d.FinalResponse != nil {
		r.FinalResponse = d.FinalResponse.Clone()
	}
	r.ErrorLog = append(r.ErrorLog, d.AppendErrors...)
	if d.Invocations != nil {
		r.Invocations = *d.Invocations
	}
	if d.UpdatedAt != nil {
		r.UpdatedAt = *d.UpdatedAt
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		r.CompletedAt = &t
	}
	return r
}

// Diff returns the delta that takes prev to next. prev may be nil, in
// which case the delta resets the run. Error log entries in next beyond
// the length of prev's log are appended; earlier entries are never
// rewritten.
func Diff(prev, next *RunState) *RunStateDelta {
	d := &RunStateDelta{}
	if next == nil {
		return d
	}
	if prev == nil {
		d.Reset = true
		prev = &RunState{}
	}
	if prev.Shared != next.Shared {
		s := next.Shared
		d.Shared = &s
	}
	if !intentEqual(prev.Intent, next.Intent) && next.Intent != nil {
		in := next.Intent.Clone()
		d.Intent = &in
	}
	if next.Plan != nil && (prev.Plan == nil || prev.Plan.CreatedAt != next.Plan.CreatedAt || len(prev.Plan.Steps) != len(next.Plan.Steps)) {
		d.Plan = next.Plan.Clone()
	} else if next.Plan != nil {
		prevStatus := prev.StepStatuses()
		for id, st := range next.StepStatuses() {
			if prevStatus[id] != st {
				if d.StepStatuses == nil {
					d.StepStatuses = make(map[string]StepStatus)
				}
				d.StepStatuses[id] = st
			}
		}
	}
	if prev.Phase != next.Phase {
		p := next.Phase
		d.Phase = &p
	}
	if prev.ErrorReason != next.ErrorReason {
		er := next.ErrorReason
		d.ErrorReason = &er
	}
	if !setsEqual(prev.Teams, next.Teams) {
		t := next.Teams.Clone()
		d.Teams = &t
	}
	for name, env := range next.TeamResults {
		old, ok := prev.TeamResults[name]
		if !ok || old.StepID != env.StepID || old.Status != env.Status || !old.FinishedAt.Equal(env.FinishedAt) {
			if d.TeamResults == nil {
				d.TeamResults = make(map[string]ResultEnvelope)
			}
			d.TeamResults[name] = env.Clone()
		}
	}
	if next.AggregatedResults != nil && (prev.AggregatedResults == nil || len(prev.AggregatedResults) != len(next.AggregatedResults)) {
		d.AggregatedResults = cloneMap(next.AggregatedResults)
	}
	if next.FinalResponse != nil && prev.FinalResponse == nil {
		d.FinalResponse = next.FinalResponse.Clone()
	}
	if len(next.ErrorLog) > len(prev.ErrorLog) {
		d.AppendErrors = append([]ErrorEntry(nil), next.ErrorLog[len(prev.ErrorLog):]...)
	}
	if prev.Invocations != next.Invocations {
		n := next.Invocations
		d.Invocations = &n
	}
	if !prev.UpdatedAt.Equal(next.UpdatedAt) {
		t := next.UpdatedAt
		d.UpdatedAt = &t
	}
	if next.CompletedAt != nil && (prev.CompletedAt == nil || !prev.CompletedAt.Equal(*next.CompletedAt)) {
		t := *next.CompletedAt
		d.CompletedAt = &t
	}
	return d
}

func intentEqual(a, b *Intent) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Type != b.Type || a.Confidence != b.Confidence || a.UsedFallback != b.UsedFallback ||
		a.LowConfidence != b.LowConfidence || a.Reasoning != b.Reasoning {
		return false
	}
	return stringsEqual(a.Keywords, b.Keywords) && stringsEqual(a.SuggestedAgents, b.SuggestedAgents)
}

func setsEqual(a, b TeamSets) bool {
	return stringsEqual(a.Active, b.Active) && stringsEqual(a.Completed, b.Completed) &&
		stringsEqual(a.Failed, b.Failed) && stringsEqual(a.Skipped, b.Skipped)
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
