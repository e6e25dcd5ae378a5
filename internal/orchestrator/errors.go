package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/relay/pkg/models"
)

var (
	// ErrPlanningFailure is returned when the planner produced no usable plan.
	ErrPlanningFailure = errors.New("planning failed")
	// ErrTeamInvocation marks a team that failed during execution.
	ErrTeamInvocation = errors.New("team invocation failed")
	// ErrStepTimeout marks a team that did not finish within the step timeout.
	ErrStepTimeout = errors.New("step timed out")
	// ErrInvalidTransition is returned for a phase change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrRunNotFound is returned by Resume for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
)

// TeamError describes one failed team invocation. Runs keep going after a
// TeamError; it is recorded in the error log and the team's envelope.
type TeamError struct {
	Team   string
	StepID string
	Reason models.FailureReason
	Err    error
}

func (e *TeamError) Error() string {
	return fmt.Sprintf("team %s (step %s) %s: %v", e.Team, e.StepID, e.Reason, e.Err)
}

func (e *TeamError) Unwrap() error {
	return e.Err
}

// Is matches ErrTeamInvocation for every TeamError and ErrStepTimeout for
// timeouts.
func (e *TeamError) Is(target error) bool {
	switch target {
	case ErrTeamInvocation:
		return true
	case ErrStepTimeout:
		return e.Reason == models.FailureTimeout
	}
	return false
}
