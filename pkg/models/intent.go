package models

// IntentType classifies what the user is asking for.
type IntentType string

const (
	IntentSearch     IntentType = "search"
	IntentAnalysis   IntentType = "analysis"
	IntentComparison IntentType = "comparison"
	IntentReport     IntentType = "report"
	IntentGeneral    IntentType = "general"
)

// Valid returns true if the intent type is a known value.
func (t IntentType) Valid() bool {
	switch t {
	case IntentSearch, IntentAnalysis, IntentComparison, IntentReport, IntentGeneral:
		return true
	default:
		return false
	}
}

// Intent is the planner's classification of a query.
type Intent struct {
	Type            IntentType `json:"intent_type"`
	Confidence      float64    `json:"confidence"`
	Keywords        []string   `json:"keywords"`
	SuggestedAgents []string   `json:"suggested_agents,omitempty"`
	Reasoning       string     `json:"reasoning,omitempty"`
	// UsedFallback is set when the keyword classifier produced the intent.
	UsedFallback bool `json:"used_fallback"`
	// LowConfidence is set when Confidence is below the planner threshold.
	LowConfidence bool `json:"low_confidence,omitempty"`
}

// Clone returns a deep copy of the intent.
func (i Intent) Clone() Intent {
	i.Keywords = cloneStrings(i.Keywords)
	i.SuggestedAgents = cloneStrings(i.SuggestedAgents)
	return i
}
