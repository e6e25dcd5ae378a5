package planner

import (
	"fmt"

	"github.com/ShayCichocki/relay/internal/graph"
	"github.com/ShayCichocki/relay/pkg/models"
)

// ValidationResult contains the results of validating a plan.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// ValidatePlan checks a plan before it may be executed: step structure,
// duplicate ids, unknown, forward and cyclic dependencies, missing
// required upstream steps, parallel group consistency and strategy
// consistency. A plan with no steps is valid.
func ValidatePlan(plan *models.ExecutionPlan) ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   []string{},
		Warnings: []string{},
	}
	if plan == nil {
		result.Valid = false
		result.Errors = append(result.Errors, "plan is nil")
		return result
	}

	validateStructure(plan, &result)

	for _, err := range graph.Check(plan.Steps) {
		result.Errors = append(result.Errors, err.Error())
	}

	validateRequiredSteps(plan, &result)
	validateGroups(plan, &result)
	validateStrategy(plan, &result)

	result.Valid = len(result.Errors) == 0
	return result
}

func validateStructure(plan *models.ExecutionPlan, result *ValidationResult) {
	for i, s := range plan.Steps {
		if s.ID == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("step %d has no id", i+1))
		}
		if s.Team == "" {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s has no team", s.ID))
		}
		if !s.Kind.Valid() {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s has unknown kind %q", s.ID, s.Kind))
		}
	}
	seen := make(map[string]string)
	for _, s := range plan.Steps {
		if prev, ok := seen[s.Team]; ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("team %s is planned twice (%s, %s); results are keyed by team", s.Team, prev, s.ID))
			continue
		}
		seen[s.Team] = s.ID
	}
}

// validateRequiredSteps checks that analysis steps have a search step to
// depend on and document steps have some upstream step.
func validateRequiredSteps(plan *models.ExecutionPlan, result *ValidationResult) {
	kinds := make(map[string]models.TeamKind, len(plan.Steps))
	for _, s := range plan.Steps {
		kinds[s.ID] = s.Kind
	}
	for _, s := range plan.Steps {
		switch s.Kind {
		case models.TeamKindAnalysis:
			found := false
			for _, dep := range s.DependsOn {
				if kinds[dep] == models.TeamKindSearch {
					found = true
				}
			}
			if !found {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s (%s) is missing a required search step", s.ID, s.Team))
			}
		case models.TeamKindDocument:
			if len(s.DependsOn) == 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s (%s) is missing a required upstream step", s.ID, s.Team))
			}
		case models.TeamKindSearch:
			if len(s.DependsOn) > 0 {
				result.Warnings = append(result.Warnings, fmt.Sprintf("search step %s has dependencies", s.ID))
			}
		}
	}
}

// validateGroups checks that every step is in exactly one group, that no
// group holds a step and one of its dependencies, and that dependencies
// sit in earlier groups.
func validateGroups(plan *models.ExecutionPlan, result *ValidationResult) {
	if len(plan.Steps) == 0 {
		if len(plan.ParallelGroups) > 0 {
			result.Errors = append(result.Errors, "plan has parallel groups but no steps")
		}
		return
	}

	groupOf := make(map[string]int)
	for gi, group := range plan.ParallelGroups {
		if len(group) == 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("parallel group %d is empty", gi+1))
		}
		for _, id := range group {
			if _, dup := groupOf[id]; dup {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s appears in more than one parallel group", id))
				continue
			}
			if plan.Step(id) == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("parallel group %d references unknown step %s", gi+1, id))
				continue
			}
			groupOf[id] = gi
		}
	}

	for _, s := range plan.Steps {
		gi, ok := groupOf[s.ID]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("step %s is not in any parallel group", s.ID))
			continue
		}
		for _, dep := range s.DependsOn {
			dg, ok := groupOf[dep]
			if !ok {
				continue
			}
			if dg >= gi {
				result.Errors = append(result.Errors, fmt.Sprintf("step %s is grouped with or before its dependency %s", s.ID, dep))
			}
		}
	}
}

func validateStrategy(plan *models.ExecutionPlan, result *ValidationResult) {
	if !plan.Strategy.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("unknown strategy %q", plan.Strategy))
		return
	}
	if plan.Strategy != models.StrategyParallel {
		return
	}
	for _, s := range plan.Steps {
		if len(s.DependsOn) > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("strategy parallel but step %s has dependencies", s.ID))
			return
		}
	}
}
