package models

import (
	"errors"
	"testing"
	"time"
)

func TestParamsForStep(t *testing.T) {
	intent := Intent{Type: IntentComparison, Keywords: []string{"solar", "wind"}}

	tests := []struct {
		name string
		step ExecutionStep
		want TeamKind
	}{
		{"search", ExecutionStep{Kind: TeamKindSearch}, TeamKindSearch},
		{"analysis", ExecutionStep{Kind: TeamKindAnalysis}, TeamKindAnalysis},
		{"document", ExecutionStep{Kind: TeamKindDocument}, TeamKindDocument},
		{"custom", ExecutionStep{Kind: TeamKindCustom, Params: map[string]string{"a": "b"}}, TeamKindCustom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParamsForStep(tt.step, intent)
			if got.Kind() != tt.want {
				t.Errorf("ParamsForStep().Kind() = %q, want %q", got.Kind(), tt.want)
			}
		})
	}
}

func TestParamsForStep_SearchDefaults(t *testing.T) {
	step := ExecutionStep{Kind: TeamKindSearch, Params: map[string]string{"sources": "web, docs ,", "limit": "x"}}
	p, ok := ParamsForStep(step, Intent{Keywords: []string{"k"}}).(SearchParams)
	if !ok {
		t.Fatal("expected SearchParams")
	}
	if p.Limit != DefaultSearchLimit {
		t.Errorf("Limit = %d, want %d", p.Limit, DefaultSearchLimit)
	}
	if len(p.Sources) != 2 || p.Sources[0] != "web" || p.Sources[1] != "docs" {
		t.Errorf("Sources = %v, want [web docs]", p.Sources)
	}
}

func TestDeriveTeamState_Isolation(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	shared := NewSharedState("compare solar and wind", "run-1", "", now)
	keywords := []string{"solar"}
	params := SearchParams{Keywords: keywords, Limit: 5}
	upstream := map[string]ResultEnvelope{
		"search_team": {Team: "search_team", Status: EnvelopeSuccess, Data: map[string]any{
			"items": []any{map[string]any{"title": "a"}},
		}},
	}
	step := ExecutionStep{ID: "step-2", Team: "analysis_team", Kind: TeamKindAnalysis}

	a := DeriveTeamState(shared, step, params, upstream, now)
	b := DeriveTeamState(shared, step, params, upstream, now)

	a.AddResult("web", "x")
	a.Upstream["search_team"].Data["items"].([]any)[0].(map[string]any)["title"] = "mutated"
	a.Params.(SearchParams).Keywords[0] = "mutated"

	if len(b.Results) != 0 {
		t.Errorf("sibling results leaked: %v", b.Results)
	}
	if got := b.Upstream["search_team"].Data["items"].([]any)[0].(map[string]any)["title"]; got != "a" {
		t.Errorf("sibling upstream mutated: %v", got)
	}
	if got := upstream["search_team"].Data["items"].([]any)[0].(map[string]any)["title"]; got != "a" {
		t.Errorf("caller upstream mutated: %v", got)
	}
	if keywords[0] != "solar" {
		t.Errorf("caller params mutated: %v", keywords)
	}
	if a.Language != DefaultLanguage {
		t.Errorf("Language = %q, want %q", a.Language, DefaultLanguage)
	}
	if a.Status != StepInProgress {
		t.Errorf("Status = %q, want %q", a.Status, StepInProgress)
	}
}

func TestTeamState_SucceedAndFail(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Second)
	step := ExecutionStep{ID: "step-1", Team: "search_team", Kind: TeamKindSearch}

	ts := DeriveTeamState(SharedState{RunID: "r"}, step, nil, nil, start)
	ts.AddResult("web", []string{"a"})
	env := ts.Succeed(nil, end)
	if !env.OK() {
		t.Fatalf("Succeed() status = %q", env.Status)
	}
	if env.Duration() != 2*time.Second {
		t.Errorf("Duration() = %v, want 2s", env.Duration())
	}
	results, ok := env.Data["results"].(map[string]any)
	if !ok || results["web"] == nil {
		t.Errorf("Succeed(nil) should carry collected results, got %v", env.Data)
	}

	ts = DeriveTeamState(SharedState{RunID: "r"}, step, nil, nil, start)
	env = ts.Fail(errors.New("boom"), end)
	if env.OK() || env.Error != "boom" || env.Reason != FailureError {
		t.Errorf("Fail() = %+v", env)
	}
	if ts.Status != StepFailed || ts.EndedAt == nil {
		t.Errorf("team state not finalized: %+v", ts)
	}
}
