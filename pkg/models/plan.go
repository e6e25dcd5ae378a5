package models

import (
	"fmt"
	"time"
)

// ExecutionStep is one team invocation in a plan.
type ExecutionStep struct {
	// ID is unique within the plan ("step-1", "step-2", ...).
	ID string `json:"id"`
	// Agent is the name the team is registered under.
	Agent string `json:"agent"`
	// Team is the label the team is reported under.
	Team string `json:"team"`
	// Kind is the team family.
	Kind TeamKind `json:"kind"`
	// Priority orders steps inside a parallel group; lower runs first.
	Priority int `json:"priority"`
	// DependsOn lists step ids that must settle before this one starts.
	DependsOn []string `json:"depends_on,omitempty"`
	// RequiresSuccess makes every dependency a hard requirement: if one
	// fails, this step is skipped instead of run with partial data.
	RequiresSuccess bool `json:"requires_success"`
	// Params are raw per-step parameters turned into TeamParams at run time.
	Params map[string]string `json:"params,omitempty"`
	// Status is the runtime state, mutated only by the supervisor.
	Status StepStatus `json:"status"`
}

// StepID formats the id of the nth step (1-based).
func StepID(n int) string {
	return fmt.Sprintf("step-%d", n)
}

// DroppedTeam records a candidate team the planner could not schedule.
type DroppedTeam struct {
	Team   string `json:"team"`
	Reason string `json:"reason"`
}

// ExecutionPlan is the ordered set of steps produced for one run.
type ExecutionPlan struct {
	Steps            []ExecutionStep `json:"steps"`
	Strategy         Strategy        `json:"strategy"`
	ParallelGroups   [][]string      `json:"parallel_groups"`
	Validated        bool            `json:"validated"`
	ValidationErrors []string        `json:"validation_errors,omitempty"`
	Dropped          []DroppedTeam   `json:"dropped,omitempty"`
	IntentType       IntentType      `json:"intent_type"`
	CreatedAt        time.Time       `json:"created_at"`
}

// StepIndex returns the position of the step with the given id, or -1.
func (p *ExecutionPlan) StepIndex(id string) int {
	if p == nil {
		return -1
	}
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Step returns a pointer to the step with the given id, or nil.
func (p *ExecutionPlan) Step(id string) *ExecutionStep {
	if i := p.StepIndex(id); i >= 0 {
		return &p.Steps[i]
	}
	return nil
}

// Teams returns the team labels of the plan in declared order.
func (p *ExecutionPlan) Teams() []string {
	if p == nil {
		return nil
	}
	teams := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		teams = append(teams, s.Team)
	}
	return teams
}

// Clone returns a deep copy of the plan.
func (p *ExecutionPlan) Clone() *ExecutionPlan {
	if p == nil {
		return nil
	}
	c := *p
	c.Steps = make([]ExecutionStep, len(p.Steps))
	for i, s := range p.Steps {
		s.DependsOn = cloneStrings(s.DependsOn)
		s.Params = cloneStringMap(s.Params)
		c.Steps[i] = s
	}
	if p.ParallelGroups != nil {
		c.ParallelGroups = make([][]string, len(p.ParallelGroups))
		for i, g := range p.ParallelGroups {
			c.ParallelGroups[i] = cloneStrings(g)
		}
	}
	c.ValidationErrors = cloneStrings(p.ValidationErrors)
	if p.Dropped != nil {
		c.Dropped = append([]DroppedTeam(nil), p.Dropped...)
	}
	return &c
}
