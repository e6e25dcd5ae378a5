package api

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPromptLibrary_Builtins(t *testing.T) {
	lib := NewPromptLibrary()
	for _, name := range []string{PromptIntentAnalysis, PromptSearchTeam, PromptAnalysisTeam, PromptFinalAnswer} {
		if _, err := lib.Get(name); err != nil {
			t.Errorf("Get(%q) error: %v", name, err)
		}
	}
	if _, err := lib.Get("nope"); !errors.Is(err, ErrUnknownPrompt) {
		t.Errorf("Get(nope) error = %v, want ErrUnknownPrompt", err)
	}
}

func TestPrompt_Render(t *testing.T) {
	lib := NewPromptLibrary()
	p, _ := lib.Get(PromptSearchTeam)

	tests := []struct {
		name    string
		vars    map[string]any
		want    string
		wantErr error
	}{
		{
			name: "all variables",
			vars: map[string]any{"query": "solar output", "keywords": []string{"solar", "output"}, "limit": 5},
			want: "Keywords: solar, output",
		},
		{
			name: "optional sources rendered",
			vars: map[string]any{"query": "q", "keywords": []string{"k"}, "limit": 5, "sources": []string{"web"}},
			want: "Sources to prefer: web",
		},
		{
			name:    "missing required",
			vars:    map[string]any{"query": "q", "limit": 5},
			wantErr: ErrMissingVariable,
		},
		{
			name:    "nil vars",
			vars:    nil,
			wantErr: ErrMissingVariable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Render(tt.vars)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Render() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Render() error: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("Render() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestPrompt_UndeclaredKeyIsMissingVariable(t *testing.T) {
	lib := &PromptLibrary{prompts: map[string]*Prompt{}}
	if err := lib.Add(Prompt{Name: "greet", Template: "hello {{.name}}"}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	p, _ := lib.Get("greet")
	if _, err := p.Render(map[string]any{}); !errors.Is(err, ErrMissingVariable) {
		t.Errorf("Render() error = %v, want ErrMissingVariable", err)
	}
}

func TestPromptLibrary_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `prompts:
  - name: final_answer
    system: custom system
    template: "Answer {{.query}}"
    required: [query]
    model: claude-haiku-4-5
  - name: legal_team
    template: "Check {{.query}}"
    required: [query]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lib := NewPromptLibrary()
	if err := lib.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}

	p, err := lib.Get(PromptFinalAnswer)
	if err != nil {
		t.Fatal(err)
	}
	if p.System != "custom system" || p.Model != "claude-haiku-4-5" {
		t.Errorf("override not applied: %+v", p)
	}
	if _, err := lib.Get("legal_team"); err != nil {
		t.Errorf("new prompt not loaded: %v", err)
	}
	if err := lib.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile() should fail for a missing file")
	}
}
