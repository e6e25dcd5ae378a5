// Package planner turns a query into a validated execution plan.
package planner

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/internal/graph"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/pkg/models"
)

// JSONCompleter is the part of the gateway the planner needs.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, promptName string, vars map[string]any, out any, opts ...api.CallOption) error
}

// DefaultConfidenceThreshold marks intents below it as low confidence.
const DefaultConfidenceThreshold = 0.6

// Config configures a Planner.
type Config struct {
	Registry *registry.Registry
	// Gateway may be nil, in which case only the keyword classifier runs.
	Gateway             JSONCompleter
	ConfidenceThreshold float64
	// DisabledTeams are never scheduled regardless of registry state.
	DisabledTeams []string
	Logger        *zap.Logger
}

// Planner classifies queries and builds execution plans.
type Planner struct {
	registry  *registry.Registry
	gateway   JSONCompleter
	threshold float64
	disabled  map[string]bool
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a Planner. A nil registry is replaced by an empty one.
func New(cfg Config) *Planner {
	p := &Planner{
		registry:  cfg.Registry,
		gateway:   cfg.Gateway,
		threshold: cfg.ConfidenceThreshold,
		disabled:  make(map[string]bool),
		logger:    cfg.Logger,
		now:       time.Now,
	}
	if p.registry == nil {
		p.registry = registry.New()
	}
	if p.threshold <= 0 {
		p.threshold = DefaultConfidenceThreshold
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	for _, name := range cfg.DisabledTeams {
		p.disabled[name] = true
	}
	return p
}

// intentResponse is the JSON shape the intent prompt asks for.
type intentResponse struct {
	IntentType      string   `json:"intent_type"`
	Confidence      float64  `json:"confidence"`
	Keywords        []string `json:"keywords"`
	SuggestedAgents []string `json:"suggested_agents"`
	Reasoning       string   `json:"reasoning"`
}

// AnalyzeIntent classifies a query. Gateway failures fall back to the
// keyword classifier, so this never fails.
func (p *Planner) AnalyzeIntent(ctx context.Context, query string) models.Intent {
	var intent models.Intent
	if p.gateway == nil {
		intent = ClassifyKeywords(query)
	} else {
		var resp intentResponse
		err := p.gateway.CompleteJSON(ctx, api.PromptIntentAnalysis, map[string]any{"query": query}, &resp)
		switch {
		case err != nil:
			p.logger.Warn("intent analysis failed, using keyword fallback", zap.Error(err))
			intent = ClassifyKeywords(query)
		case !models.IntentType(strings.ToLower(resp.IntentType)).Valid():
			p.logger.Warn("intent analysis returned unknown type, using keyword fallback",
				zap.String("intent_type", resp.IntentType))
			intent = ClassifyKeywords(query)
		default:
			intent = models.Intent{
				Type:            models.IntentType(strings.ToLower(resp.IntentType)),
				Confidence:      clamp(resp.Confidence),
				Keywords:        normalizeKeywords(resp.Keywords),
				SuggestedAgents: resp.SuggestedAgents,
				Reasoning:       resp.Reasoning,
			}
			if len(intent.Keywords) == 0 {
				intent.Keywords = ExtractKeywords(query)
			}
		}
	}

	if intent.Confidence < p.threshold {
		intent.LowConfidence = true
		p.logger.Warn("low confidence intent, continuing with best guess",
			zap.String("intent", string(intent.Type)),
			zap.Float64("confidence", intent.Confidence),
			zap.Float64("threshold", p.threshold))
	}
	p.logger.Debug("intent analyzed",
		zap.String("intent", string(intent.Type)),
		zap.Float64("confidence", intent.Confidence),
		zap.Bool("fallback", intent.UsedFallback))
	return intent
}

// Plan is AnalyzeIntent followed by CreateExecutionPlan.
func (p *Planner) Plan(ctx context.Context, query string) (models.Intent, *models.ExecutionPlan) {
	intent := p.AnalyzeIntent(ctx, query)
	return intent, p.CreateExecutionPlan(intent)
}

// candidate is a team considered for a plan.
type candidate struct {
	name     string
	kind     models.TeamKind
	priority int
}

// Default team names.
const (
	SearchTeam   = "search_team"
	AnalysisTeam = "analysis_team"
	DocumentTeam = "document_team"
)

// teamMapping maps each intent to its candidate teams in priority order.
var teamMapping = map[models.IntentType][]candidate{
	models.IntentSearch: {
		{SearchTeam, models.TeamKindSearch, 1},
	},
	models.IntentAnalysis: {
		{SearchTeam, models.TeamKindSearch, 1},
		{AnalysisTeam, models.TeamKindAnalysis, 2},
	},
	models.IntentComparison: {
		{SearchTeam, models.TeamKindSearch, 1},
		{AnalysisTeam, models.TeamKindAnalysis, 2},
	},
	models.IntentReport: {
		{SearchTeam, models.TeamKindSearch, 1},
		{AnalysisTeam, models.TeamKindAnalysis, 2},
		{DocumentTeam, models.TeamKindDocument, 3},
	},
	models.IntentGeneral: nil,
}

// suggestedPriority is used for suggested agents without a registry priority.
const suggestedPriority = 4

// CreateExecutionPlan builds and validates the plan for an intent.
// Invalid plans are returned with Validated=false.
func (p *Planner) CreateExecutionPlan(intent models.Intent) *models.ExecutionPlan {
	plan := &models.ExecutionPlan{
		IntentType: intent.Type,
		CreatedAt:  p.now().UTC(),
	}

	candidates := p.candidates(intent)
	kept := p.filter(candidates, plan)
	plan.Steps = buildSteps(kept, intent)

	if len(plan.Steps) > 0 {
		g := graph.New()
		g.SetLogger(p.logger)
		if err := g.Build(plan.Steps); err == nil {
			plan.ParallelGroups, _ = g.Levels()
		}
	}
	plan.Strategy = models.StrategyParallel
	for _, s := range plan.Steps {
		if len(s.DependsOn) > 0 {
			plan.Strategy = models.StrategySequential
			break
		}
	}

	result := ValidatePlan(plan)
	plan.Validated = result.Valid
	if len(result.Errors) > 0 {
		plan.ValidationErrors = result.Errors
	}
	for _, w := range result.Warnings {
		p.logger.Warn("plan warning", zap.String("warning", w))
	}

	p.logger.Info("execution plan created",
		zap.String("intent", string(intent.Type)),
		zap.Int("steps", len(plan.Steps)),
		zap.String("strategy", string(plan.Strategy)),
		zap.Int("dropped", len(plan.Dropped)),
		zap.Bool("validated", plan.Validated))
	return plan
}

func (p *Planner) candidates(intent models.Intent) []candidate {
	mapped := teamMapping[intent.Type]
	out := make([]candidate, 0, len(mapped)+len(intent.SuggestedAgents))
	seen := make(map[string]bool)
	for _, c := range mapped {
		out = append(out, c)
		seen[c.name] = true
	}

	for _, name := range intent.SuggestedAgents {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		entry := p.registry.Resolve(name)
		if !entry.Available {
			p.logger.Debug("suggested agent not resolvable", zap.String("agent", name))
			continue
		}
		kind := entry.Capabilities.Kind
		if !kind.Valid() {
			kind = models.TeamKindCustom
		}
		priority := entry.Priority
		if priority <= 0 {
			priority = suggestedPriority
		}
		seen[name] = true
		out = append(out, candidate{name: name, kind: kind, priority: priority})
	}

	// Upstream kinds first so every dependency points backwards.
	sort.SliceStable(out, func(i, j int) bool {
		return kindRank[out[i].kind] < kindRank[out[j].kind]
	})
	return out
}

var kindRank = map[models.TeamKind]int{
	models.TeamKindSearch:   0,
	models.TeamKindAnalysis: 1,
	models.TeamKindDocument: 2,
	models.TeamKindCustom:   3,
}

// filter drops unusable candidates and the dependents that lose their
// hard requirement, recording each in plan.Dropped. Candidates are in
// dependency order, so a dependent only needs to look at the ones
// accepted before it.
func (p *Planner) filter(cands []candidate, plan *models.ExecutionPlan) []candidate {
	var kept []candidate
	for _, c := range cands {
		reason := ""
		if p.disabled[c.name] {
			reason = "disabled by configuration"
		} else {
			entry := p.registry.Resolve(c.name)
			switch {
			case !entry.Available:
				reason = "not registered"
			case !entry.Enabled:
				reason = "disabled in registry"
			}
		}
		if reason != "" {
			plan.Dropped = append(plan.Dropped, models.DroppedTeam{Team: c.name, Reason: reason})
			continue
		}
		kept = append(kept, c)
	}

	var out []candidate
	has := func(kinds ...models.TeamKind) bool {
		for _, c := range out {
			for _, k := range kinds {
				if c.kind == k {
					return true
				}
			}
		}
		return false
	}

	for _, c := range kept {
		switch {
		case c.kind == models.TeamKindAnalysis && !has(models.TeamKindSearch):
			plan.Dropped = append(plan.Dropped, models.DroppedTeam{Team: c.name, Reason: "requires a search team"})
			continue
		case c.kind == models.TeamKindDocument && !has(models.TeamKindSearch, models.TeamKindAnalysis):
			plan.Dropped = append(plan.Dropped, models.DroppedTeam{Team: c.name, Reason: "requires a search or analysis team"})
			continue
		}
		out = append(out, c)
	}
	return out
}

// buildSteps assigns ids and derives dependencies by kind: analysis waits
// on every search step and needs one to succeed; document waits on the
// analysis steps, or the search steps when there is no analysis, and runs
// with whatever upstream data exists.
func buildSteps(cands []candidate, intent models.Intent) []models.ExecutionStep {
	steps := make([]models.ExecutionStep, 0, len(cands))
	for i, c := range cands {
		steps = append(steps, models.ExecutionStep{
			ID:       models.StepID(i + 1),
			Agent:    c.name,
			Team:     c.name,
			Kind:     c.kind,
			Priority: c.priority,
			Params:   stepParams(c.kind, intent),
			Status:   models.StepPending,
		})
	}

	idsOf := func(kind models.TeamKind) []string {
		var ids []string
		for _, s := range steps {
			if s.Kind == kind {
				ids = append(ids, s.ID)
			}
		}
		return ids
	}
	search := idsOf(models.TeamKindSearch)
	analysis := idsOf(models.TeamKindAnalysis)

	for i := range steps {
		switch steps[i].Kind {
		case models.TeamKindAnalysis:
			steps[i].DependsOn = append([]string(nil), search...)
			steps[i].RequiresSuccess = true
		case models.TeamKindDocument:
			if len(analysis) > 0 {
				steps[i].DependsOn = append([]string(nil), analysis...)
			} else {
				steps[i].DependsOn = append([]string(nil), search...)
			}
		}
	}
	return steps
}

func stepParams(kind models.TeamKind, intent models.Intent) map[string]string {
	switch kind {
	case models.TeamKindAnalysis:
		return map[string]string{"focus": string(intent.Type)}
	case models.TeamKindDocument:
		title := strings.Join(intent.Keywords, " ")
		if title == "" {
			title = "Report"
		}
		return map[string]string{"title": title, "format": "markdown"}
	default:
		return nil
	}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func normalizeKeywords(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}
