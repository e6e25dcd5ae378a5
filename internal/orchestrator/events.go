package orchestrator

import (
	"time"

	"github.com/ShayCichocki/relay/pkg/models"
)

// EventType represents the type of supervisor event.
type EventType string

const (
	// EventPhaseChanged indicates the run moved to a new phase.
	EventPhaseChanged EventType = "phase_changed"
	// EventTeamStarted indicates a team was invoked for a step.
	EventTeamStarted EventType = "team_started"
	// EventTeamCompleted indicates a team returned a successful envelope.
	EventTeamCompleted EventType = "team_completed"
	// EventTeamFailed indicates a team failed or timed out.
	EventTeamFailed EventType = "team_failed"
	// EventTeamSkipped indicates a step was never invoked.
	EventTeamSkipped EventType = "team_skipped"
	// EventRunDone indicates the run reached a terminal phase.
	EventRunDone EventType = "run_done"
)

// SupervisorEvent is emitted while a run progresses when tracing is enabled.
type SupervisorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID is the run the event belongs to.
	RunID string
	// Phase is the run phase after the event.
	Phase models.Phase
	// Team and StepID identify the step for team events.
	Team   string
	StepID string
	// Reason classifies failed and skipped steps.
	Reason models.FailureReason
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is how long the team ran, for completed and failed events.
	Duration time.Duration
}
