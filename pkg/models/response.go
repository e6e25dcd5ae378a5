package models

// ResponseKind distinguishes the shapes of a final response.
type ResponseKind string

const (
	// ResponseAnswer is returned when every planned team succeeded.
	ResponseAnswer ResponseKind = "answer"
	// ResponsePartial is returned when some teams succeeded and some did not.
	ResponsePartial ResponseKind = "partial"
	// ResponseError is returned when no team produced a result.
	ResponseError ResponseKind = "error"
	// ResponseNoTeam is returned when the plan had no applicable team.
	ResponseNoTeam ResponseKind = "no_team"
)

// FinalResponse is the user-facing outcome of a run.
type FinalResponse struct {
	Kind    ResponseKind `json:"kind"`
	Message string       `json:"message"`
	// Teams lists the teams whose results contributed.
	Teams []string `json:"teams,omitempty"`
	// FailedTeams maps failed or skipped teams to their error.
	FailedTeams map[string]string `json:"failed_teams,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	// Synthesized is set when the message came from the gateway.
	Synthesized bool `json:"synthesized,omitempty"`
}

// Clone returns a deep copy of the response.
func (r *FinalResponse) Clone() *FinalResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.Teams = cloneStrings(r.Teams)
	c.FailedTeams = cloneStringMap(r.FailedTeams)
	c.Data = cloneMap(r.Data)
	return &c
}
