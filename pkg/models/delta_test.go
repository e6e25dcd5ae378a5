package models

import (
	"reflect"
	"testing"
	"time"
)

func TestRunStateDelta_ApplyAppendsErrors(t *testing.T) {
	r := NewRunState(NewSharedState("q", "run", "en", time.Now()))
	r.AppendError(ErrorEntry{Message: "one"})

	d := &RunStateDelta{AppendErrors: []ErrorEntry{{Message: "two"}}}
	r = d.Apply(r)

	if len(r.ErrorLog) != 2 || r.ErrorLog[0].Message != "one" || r.ErrorLog[1].Message != "two" {
		t.Errorf("ErrorLog = %v", r.ErrorLog)
	}
}

func TestRunStateDelta_Reset(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	old := NewRunState(NewSharedState("old", "run", "en", now))
	old.AppendError(ErrorEntry{Message: "stale"})
	old.MarkFailed("x")

	shared := NewSharedState("new", "run", "de", now.Add(time.Hour))
	r := (&RunStateDelta{Reset: true, Shared: &shared}).Apply(old)

	if r.Shared.Query != "new" || len(r.ErrorLog) != 0 || r.Teams.Membership("x") != "" {
		t.Errorf("Reset did not start a fresh generation: %+v", r)
	}
}

func TestRunStateDelta_IsEmpty(t *testing.T) {
	var nilDelta *RunStateDelta
	if !nilDelta.IsEmpty() || !(&RunStateDelta{}).IsEmpty() {
		t.Error("empty deltas should report IsEmpty")
	}
	p := PhaseExecuting
	if (&RunStateDelta{Phase: &p}).IsEmpty() {
		t.Error("delta with phase should not be empty")
	}
}

func TestDiff_RoundTrip(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	prev := NewRunState(NewSharedState("q", "run", "en", now))
	prev.SetPhase(PhasePlanning, now)

	next := prev.Clone()
	next.Plan = &ExecutionPlan{
		Steps:     []ExecutionStep{{ID: "step-1", Team: "search_team", Status: StepPending}},
		Strategy:  StrategyParallel,
		Validated: true,
		CreatedAt: now,
	}
	next.SetPhase(PhaseExecuting, now.Add(time.Second))
	next.MarkActive("search_team")
	next.Invocations = 1
	next.AppendError(ErrorEntry{Time: now, Message: "warn"})

	got := Diff(prev, next).Apply(prev.Clone())
	if !reflect.DeepEqual(got, next) {
		t.Errorf("Diff/Apply round trip mismatch:\n got %+v\nwant %+v", got, next)
	}

	// Step status only changes travel as StepStatuses.
	after := next.Clone()
	after.SetStepStatus("step-1", StepCompleted)
	d := Diff(next, after)
	if d.Plan != nil || d.StepStatuses["step-1"] != StepCompleted {
		t.Errorf("expected step status delta, got %+v", d)
	}
}

func TestDiff_FromNil(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	next := NewRunState(NewSharedState("q", "run", "en", now))
	next.SetStatus(RunStatusProcessing, "", now)

	d := Diff(nil, next)
	if !d.Reset {
		t.Fatal("diff from nil should reset")
	}
	got := d.Apply(nil)
	if !reflect.DeepEqual(got, next) {
		t.Errorf("Apply(nil) = %+v, want %+v", got, next)
	}
}
