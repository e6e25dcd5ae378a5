package models

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run has been created but not started.
	RunStatusPending RunStatus = "pending"
	// RunStatusProcessing indicates the run is planning or executing.
	RunStatusProcessing RunStatus = "processing"
	// RunStatusCompleted indicates the run reached its final response.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusError indicates the run stopped without a usable plan or journal.
	RunStatusError RunStatus = "error"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusProcessing, RunStatusCompleted, RunStatusError:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusError
}

// StepStatus represents the runtime state of an execution step.
type StepStatus string

const (
	// StepPending indicates the step has not started.
	StepPending StepStatus = "pending"
	// StepInProgress indicates the step's team is being invoked.
	StepInProgress StepStatus = "in_progress"
	// StepCompleted indicates the team returned a successful envelope.
	StepCompleted StepStatus = "completed"
	// StepFailed indicates the team failed or timed out.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was never invoked.
	StepSkipped StepStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true for completed, failed and skipped steps.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Strategy is the concurrency shape chosen for a plan.
type Strategy string

const (
	// StrategySequential runs steps one at a time in declared order.
	StrategySequential Strategy = "sequential"
	// StrategyParallel runs every parallel group concurrently.
	StrategyParallel Strategy = "parallel"
	// StrategyMixed runs groups in order and the steps of each group concurrently.
	StrategyMixed Strategy = "mixed"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyMixed:
		return true
	default:
		return false
	}
}

// Phase is the supervisor state machine position for a run.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhasePlanning     Phase = "planning"
	PhaseExecuting    Phase = "executing"
	PhaseAggregating  Phase = "aggregating"
	PhaseCompleted    Phase = "completed"
	PhaseError        Phase = "error"
)

// Terminal returns true for the completed and error phases.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// ErrorReason classifies why a run ended in the error status.
type ErrorReason string

const (
	ReasonNone               ErrorReason = ""
	ReasonJournalUnavailable ErrorReason = "journal_unavailable"
	ReasonPlanningFailure    ErrorReason = "planning_failure"
	ReasonInternal           ErrorReason = "internal"
)

// FailureReason classifies why a single step did not complete.
type FailureReason string

const (
	FailureNone        FailureReason = ""
	FailureError       FailureReason = "error"
	FailureTimeout     FailureReason = "timeout"
	FailureCanceled    FailureReason = "canceled"
	FailureUnavailable FailureReason = "unavailable"
	FailureDependency  FailureReason = "dependency"
	FailureLimit       FailureReason = "recursion_limit"
)
