// Package teams provides the built-in worker teams: search, analysis and
// document. Teams only see the TeamState handed to them and report back
// through a ResultEnvelope.
package teams

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/internal/registry"
	"github.com/ShayCichocki/relay/pkg/models"
)

// Default team names. They match the names the planner schedules.
const (
	SearchName   = "search_team"
	AnalysisName = "analysis_team"
	DocumentName = "document_team"
)

// JSONCompleter renders a prompt and decodes the JSON reply.
// *api.Gateway implements it.
type JSONCompleter interface {
	CompleteJSON(ctx context.Context, promptName string, vars map[string]any, out any, opts ...api.CallOption) error
}

// Option configures a team.
type Option func(*base)

// WithLogger sets the team logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *base) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides time.Now (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// base holds what every team needs.
type base struct {
	logger *zap.Logger
	now    func() time.Time
}

func newBase(name string, opts []Option) base {
	b := base{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	b.logger = b.logger.With(zap.String("team", name))
	return b
}

// RegisterDefaults registers the built-in teams and their dynamic
// factories. The search and analysis teams need a gateway; without one
// only the document team is registered.
func RegisterDefaults(reg *registry.Registry, gw JSONCompleter, opts ...Option) {
	if gw != nil {
		reg.Register(SearchName, NewSearchTeam(gw, opts...), SearchCapabilities, 1, true)
		reg.Register(AnalysisName, NewAnalysisTeam(gw, opts...), AnalysisCapabilities, 2, true)
	}
	reg.Register(DocumentName, NewDocumentTeam(opts...), DocumentCapabilities, 3, true)
	for _, f := range Factories(gw, opts...) {
		reg.AddFactory(f)
	}
}

// Capabilities of the built-in teams.
var (
	SearchCapabilities = registry.Capabilities{
		Kind:    models.TeamKindSearch,
		Inputs:  []string{"query", "keywords", "sources"},
		Outputs: []string{"items", "sources", "summary"},
	}
	AnalysisCapabilities = registry.Capabilities{
		Kind:    models.TeamKindAnalysis,
		Inputs:  []string{"query", "focus", "upstream"},
		Outputs: []string{"analysis", "key_points", "confidence"},
	}
	DocumentCapabilities = registry.Capabilities{
		Kind:    models.TeamKindDocument,
		Inputs:  []string{"title", "format", "upstream"},
		Outputs: []string{"document", "format", "title"},
	}
)

// aliases maps spellings accepted by the dynamic factories to a kind.
// Names are matched after registry.CandidateNames normalization.
var aliases = map[string]models.TeamKind{
	"search":     models.TeamKindSearch,
	"web_search": models.TeamKindSearch,
	"research":   models.TeamKindSearch,
	"retrieval":  models.TeamKindSearch,
	"analysis":   models.TeamKindAnalysis,
	"analyst":    models.TeamKindAnalysis,
	"comparison": models.TeamKindAnalysis,
	"document":   models.TeamKindDocument,
	"report":     models.TeamKindDocument,
	"writer":     models.TeamKindDocument,
}

// Factories returns the dynamic factories for suggested team names such
// as "WebSearch" or "ReportTeam". Search and analysis factories are
// only returned when gw is set.
func Factories(gw JSONCompleter, opts ...Option) []registry.Factory {
	byKind := func(want models.TeamKind, build func() registry.Team, caps registry.Capabilities) registry.Factory {
		return func(name string) (registry.Team, registry.Capabilities, bool) {
			kind, ok := aliases[strings.ToLower(name)]
			if !ok || kind != want {
				return nil, registry.Capabilities{}, false
			}
			return build(), caps, true
		}
	}

	var out []registry.Factory
	if gw != nil {
		out = append(out,
			byKind(models.TeamKindSearch, func() registry.Team { return NewSearchTeam(gw, opts...) }, SearchCapabilities),
			byKind(models.TeamKindAnalysis, func() registry.Team { return NewAnalysisTeam(gw, opts...) }, AnalysisCapabilities),
		)
	}
	out = append(out, byKind(models.TeamKindDocument, func() registry.Team { return NewDocumentTeam(opts...) }, DocumentCapabilities))
	return out
}
