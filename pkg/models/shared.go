package models

import "time"

// DefaultLanguage is used when a caller does not specify one.
const DefaultLanguage = "en"

// SharedState is the minimal state every team may read.
//
// It is fixed for the lifetime of a run except for Status and ErrorMessage,
// which only the supervisor writes (see RunState.SetStatus). Teams receive
// it by value inside their TeamState.
type SharedState struct {
	// Query is the raw user query.
	Query string `json:"query"`
	// RunID identifies the run and keys its journal records.
	RunID string `json:"run_id"`
	// CreatedAt is when the run was started.
	CreatedAt time.Time `json:"created_at"`
	// Language is the response language requested by the caller.
	Language string `json:"language"`
	// Status mirrors RunState.Status.
	Status RunStatus `json:"status"`
	// ErrorMessage is set when Status is error.
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewSharedState creates the shared state for a new run.
func NewSharedState(query, runID, language string, now time.Time) SharedState {
	if language == "" {
		language = DefaultLanguage
	}
	return SharedState{
		Query:     query,
		RunID:     runID,
		CreatedAt: now.UTC(),
		Language:  language,
		Status:    RunStatusPending,
	}
}
