package graph

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ShayCichocki/relay/pkg/models"
)

func step(id string, deps ...string) models.ExecutionStep {
	return models.ExecutionStep{ID: id, Team: id + "_team", DependsOn: deps}
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name    string
		steps   []models.ExecutionStep
		wantErr error
	}{
		{"empty", nil, nil},
		{"chain", []models.ExecutionStep{step("a"), step("b", "a"), step("c", "b")}, nil},
		{"unknown dependency", []models.ExecutionStep{step("a", "zzz")}, ErrUnknownDependency},
		{"duplicate", []models.ExecutionStep{step("a"), step("a")}, ErrDuplicateStep},
		{"cycle", []models.ExecutionStep{step("a", "b"), step("b", "a")}, ErrCycleDetected},
		{"self loop", []models.ExecutionStep{step("a", "a")}, ErrCycleDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(tt.steps)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Build() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name  string
		steps []models.ExecutionStep
		want  []error
	}{
		{"valid", []models.ExecutionStep{step("a"), step("b", "a")}, nil},
		{"forward reference", []models.ExecutionStep{step("a", "b"), step("b")}, []error{ErrForwardDependency}},
		{"cycle", []models.ExecutionStep{step("a", "b"), step("b", "a")}, []error{ErrForwardDependency, ErrCycleDetected}},
		{"unknown", []models.ExecutionStep{step("a", "x")}, []error{ErrUnknownDependency}},
		{"duplicate", []models.ExecutionStep{step("a"), step("a")}, []error{ErrDuplicateStep}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Check(tt.steps)
			if len(errs) != len(tt.want) {
				t.Fatalf("Check() = %v, want %d errors", errs, len(tt.want))
			}
			for i := range errs {
				if !errors.Is(errs[i], tt.want[i]) {
					t.Errorf("Check()[%d] = %v, want %v", i, errs[i], tt.want[i])
				}
			}
		})
	}
}

func TestLevels(t *testing.T) {
	steps := []models.ExecutionStep{
		{ID: "s1", Priority: 2},
		{ID: "s2", Priority: 1},
		{ID: "a1", DependsOn: []string{"s1", "s2"}},
		{ID: "d1", DependsOn: []string{"a1"}},
		{ID: "d2", DependsOn: []string{"s2"}},
	}
	g := New()
	if err := g.Build(steps); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	got, err := g.Levels()
	if err != nil {
		t.Fatalf("Levels() error: %v", err)
	}
	want := [][]string{{"s2", "s1"}, {"a1", "d2"}, {"d1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Levels() = %v, want %v", got, want)
	}

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"s2", "s1", "a1", "d2", "d1"}) {
		t.Errorf("TopologicalSort() = %v", order)
	}
}

func TestGetReady(t *testing.T) {
	g := New()
	if err := g.Build([]models.ExecutionStep{step("a"), step("b"), step("c", "a", "b")}); err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetReady() = %v, want [a b]", got)
	}
	g.MarkSettled("a")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("GetReady() after a = %v, want [b]", got)
	}
	g.MarkSettled("b")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("GetReady() after a,b = %v, want [c]", got)
	}
	if got := g.GetDependents("a"); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("GetDependents(a) = %v", got)
	}
}
