package models

import (
	"testing"
	"time"
)

func TestNameSet(t *testing.T) {
	var s NameSet
	s = s.Add("b")
	s = s.Add("a")
	s = s.Add("c")
	s = s.Add("a")

	if len(s) != 3 || s[0] != "a" || s[1] != "b" || s[2] != "c" {
		t.Fatalf("NameSet = %v, want [a b c]", s)
	}
	if !s.Contains("b") || s.Contains("d") {
		t.Errorf("Contains gave wrong answer for %v", s)
	}
	s = s.Remove("b")
	s = s.Remove("missing")
	if len(s) != 2 || s.Contains("b") {
		t.Errorf("after Remove NameSet = %v", s)
	}
}

func TestRunState_SetsStayDisjoint(t *testing.T) {
	r := NewRunState(NewSharedState("q", "run", "en", time.Now()))

	ops := []struct {
		name string
		do   func(string)
		want string
	}{
		{"active", r.MarkActive, "active"},
		{"completed", r.MarkCompleted, "completed"},
		{"failed", r.MarkFailed, "failed"},
		{"skipped", r.MarkSkipped, "skipped"},
		{"active again", r.MarkActive, "active"},
	}

	for _, op := range ops {
		op.do("search_team")
		if got := r.Teams.Membership("search_team"); got != op.want {
			t.Errorf("%s: membership = %q, want %q", op.name, got, op.want)
		}
		if !r.Teams.Disjoint() {
			t.Fatalf("%s: sets not disjoint: %+v", op.name, r.Teams)
		}
	}
}

func TestRunState_MergeTeamResult(t *testing.T) {
	r := NewRunState(NewSharedState("q", "run", "en", time.Now()))
	r.Plan = &ExecutionPlan{Steps: []ExecutionStep{
		{ID: "step-1", Team: "search_team", Status: StepInProgress},
		{ID: "step-2", Team: "analysis_team", Status: StepInProgress},
	}}
	r.MarkActive("search_team")
	r.MarkActive("analysis_team")

	data := map[string]any{"n": 1}
	r.MergeTeamResult(ResultEnvelope{Team: "search_team", StepID: "step-1", Status: EnvelopeSuccess, Data: data})
	r.MergeTeamResult(ResultEnvelope{Team: "analysis_team", StepID: "step-2", Status: EnvelopeFailure, Error: "x"})
	data["n"] = 2

	if got := r.Teams.Membership("search_team"); got != "completed" {
		t.Errorf("search_team membership = %q", got)
	}
	if got := r.Teams.Membership("analysis_team"); got != "failed" {
		t.Errorf("analysis_team membership = %q", got)
	}
	if r.Plan.Step("step-1").Status != StepCompleted || r.Plan.Step("step-2").Status != StepFailed {
		t.Errorf("step statuses = %v", r.StepStatuses())
	}
	if r.TeamResults["search_team"].Data["n"] != 1 {
		t.Error("merged envelope should be a copy")
	}
}

func TestRunState_SetStatusTerminal(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := NewRunState(NewSharedState("q", "run", "en", now))
	r.SetStatus(RunStatusProcessing, "", now.Add(time.Second))
	if r.Terminal() || r.CompletedAt != nil {
		t.Fatal("processing run should not be terminal")
	}
	r.Fail(ReasonPlanningFailure, "no plan", now.Add(2*time.Second))
	if !r.Terminal() || r.Phase != PhaseError || r.CompletedAt == nil {
		t.Errorf("Fail() left run in %+v", r)
	}
	if r.Shared.ErrorMessage != "no plan" || r.ErrorReason != ReasonPlanningFailure {
		t.Errorf("error fields = %q / %q", r.Shared.ErrorMessage, r.ErrorReason)
	}
	pub := r.Public()
	if pub.DurationMS != 2000 {
		t.Errorf("Public().DurationMS = %d, want 2000", pub.DurationMS)
	}
}

func TestRunState_CloneIsDeep(t *testing.T) {
	r := NewRunState(NewSharedState("q", "run", "en", time.Now()))
	r.Plan = &ExecutionPlan{Steps: []ExecutionStep{{ID: "step-1", DependsOn: []string{"x"}}}}
	r.MarkCompleted("a")
	r.AppendError(ErrorEntry{Message: "first"})

	c := r.Clone()
	c.Plan.Steps[0].DependsOn[0] = "y"
	c.MarkFailed("a")
	c.AppendError(ErrorEntry{Message: "second"})

	if r.Plan.Steps[0].DependsOn[0] != "x" {
		t.Error("plan shared with clone")
	}
	if r.Teams.Membership("a") != "completed" {
		t.Error("team sets shared with clone")
	}
	if len(r.ErrorLog) != 1 {
		t.Error("error log shared with clone")
	}
}
