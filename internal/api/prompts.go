package api

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/template"

	"go.yaml.in/yaml/v3"
)

var (
	// ErrUnknownPrompt is returned for prompt names not in the library.
	ErrUnknownPrompt = errors.New("unknown prompt")
	// ErrMissingVariable is returned when a required template variable is absent.
	ErrMissingVariable = errors.New("missing prompt variable")
)

// Built-in prompt names.
const (
	PromptIntentAnalysis = "intent_analysis"
	PromptSearchTeam     = "search_team"
	PromptAnalysisTeam   = "analysis_team"
	PromptFinalAnswer    = "final_answer"
)

// Prompt is a named template. Model, MaxTokens and Temperature override
// the gateway defaults when set. Optional variables render as empty
// strings when absent; any other missing key is an error.
type Prompt struct {
	Name        string   `yaml:"name"`
	System      string   `yaml:"system"`
	Template    string   `yaml:"template"`
	Required    []string `yaml:"required"`
	Optional    []string `yaml:"optional,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	MaxTokens   int64    `yaml:"max_tokens,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`

	tmpl *template.Template
}

func (p *Prompt) compile() error {
	t, err := template.New(p.Name).
		Option("missingkey=error").
		Funcs(template.FuncMap{"join": strings.Join}).
		Parse(p.Template)
	if err != nil {
		return fmt.Errorf("parse prompt %s: %w", p.Name, err)
	}
	p.tmpl = t
	return nil
}

// Render substitutes vars into the template.
func (p *Prompt) Render(vars map[string]any) (string, error) {
	for _, name := range p.Required {
		v, ok := vars[name]
		if !ok || v == nil {
			return "", fmt.Errorf("%w: %s requires %q", ErrMissingVariable, p.Name, name)
		}
	}
	data := make(map[string]any, len(vars)+len(p.Optional))
	for _, name := range p.Optional {
		data[name] = ""
	}
	for k, v := range vars {
		data[k] = v
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		if strings.Contains(err.Error(), "map has no entry for key") {
			return "", fmt.Errorf("%w: %s: %v", ErrMissingVariable, p.Name, err)
		}
		return "", fmt.Errorf("render prompt %s: %w", p.Name, err)
	}
	return buf.String(), nil
}

// PromptLibrary resolves prompts by name.
type PromptLibrary struct {
	mu      sync.RWMutex
	prompts map[string]*Prompt
}

// NewPromptLibrary returns a library holding the built-in prompts.
func NewPromptLibrary() *PromptLibrary {
	lib := &PromptLibrary{prompts: make(map[string]*Prompt)}
	for _, p := range builtinPrompts() {
		if err := lib.Add(p); err != nil {
			// Built-ins are static; a parse failure is a programming error.
			panic(err)
		}
	}
	return lib
}

// Add registers or replaces a prompt.
func (l *PromptLibrary) Add(p Prompt) error {
	if p.Name == "" {
		return errors.New("prompt name is required")
	}
	if err := p.compile(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts[p.Name] = &p
	return nil
}

// Get returns the named prompt.
func (l *PromptLibrary) Get(name string) (*Prompt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.prompts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}
	return p, nil
}

// Names returns the prompt names in sorted order.
func (l *PromptLibrary) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.prompts))
	for n := range l.prompts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type promptFile struct {
	Prompts []Prompt `yaml:"prompts"`
}

// LoadFile adds every prompt from a YAML file, overriding built-ins with
// the same name.
func (l *PromptLibrary) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read prompts file: %w", err)
	}
	var f promptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse prompts file: %w", err)
	}
	for _, p := range f.Prompts {
		if err := l.Add(p); err != nil {
			return err
		}
	}
	return nil
}

func builtinPrompts() []Prompt {
	return []Prompt{
		{
			Name:     PromptIntentAnalysis,
			Required: []string{"query"},
			System:   "You classify user questions for a research assistant that routes work to specialised teams.",
			Template: `Classify the following question.

Question: {{.query}}

Return a JSON object with these fields:
- "intent_type": one of "search", "analysis", "comparison", "report", "general"
- "confidence": number between 0 and 1
- "keywords": up to 8 search keywords
- "suggested_agents": extra team names that could help, or an empty list
- "reasoning": one sentence`,
		},
		{
			Name:     PromptSearchTeam,
			Required: []string{"query", "keywords", "limit"},
			Optional: []string{"sources"},
			System:   "You are a search team. You return concise, factual findings with their sources.",
			Template: `Find information for this question.

Question: {{.query}}
Keywords: {{join .keywords ", "}}
{{- if .sources}}
Sources to prefer: {{join .sources ", "}}
{{- end}}

Return a JSON object {"items": [{"title": "...", "summary": "...", "source": "..."}]} with at most {{.limit}} items.`,
		},
		{
			Name:     PromptAnalysisTeam,
			Required: []string{"query", "focus", "findings"},
			System:   "You are an analysis team. You reason over findings gathered by other teams.",
			Template: `Question: {{.query}}
Focus: {{.focus}}

Findings:
{{.findings}}

Return a JSON object {"analysis": "...", "key_points": ["..."], "confidence": 0.0}.`,
		},
		{
			Name:     PromptFinalAnswer,
			Required: []string{"query", "results"},
			Optional: []string{"language", "failed"},
			System:   "You write the final answer for the user from the results of several teams. Answer in the requested language.",
			Template: `Question: {{.query}}
Language: {{.language}}

Team results:
{{.results}}
{{- if .failed}}

These teams failed, mention the gap briefly: {{.failed}}
{{- end}}

Write a direct answer in a few short paragraphs.`,
		},
	}
}
