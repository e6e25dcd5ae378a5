package orchestrator

import "github.com/ShayCichocki/relay/pkg/models"

// transitions lists the phases reachable from each non-terminal phase.
var transitions = map[models.Phase][]models.Phase{
	models.PhaseInitializing: {models.PhasePlanning, models.PhaseError},
	models.PhasePlanning:     {models.PhaseExecuting, models.PhaseError},
	models.PhaseExecuting:    {models.PhaseAggregating, models.PhaseError},
	models.PhaseAggregating:  {models.PhaseCompleted, models.PhaseError},
}

// canTransition reports whether the state machine allows from -> to.
func canTransition(from, to models.Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}
