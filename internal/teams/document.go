package teams

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/ShayCichocki/relay/pkg/models"
)

// Formats the document team can render.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

var documentTemplates = map[string]*template.Template{
	FormatMarkdown: template.Must(template.New(FormatMarkdown).Funcs(docFuncs).Parse(`# {{.Title}}

_Question: {{.Query}}_
{{range .Sections}}
## {{.Team}}
{{if .Analysis}}
{{.Analysis}}
{{end}}{{range .Points}}- {{.}}
{{end}}{{range .Items}}- **{{.Title}}**: {{.Summary}}{{if .Source}} ({{.Source}}){{end}}
{{end}}{{if .Summary}}
{{.Summary}}
{{end}}{{end}}{{if .Missing}}
## Gaps

Not available: {{join .Missing ", "}}.
{{end}}`)),
	FormatText: template.Must(template.New(FormatText).Funcs(docFuncs).Parse(`{{upper .Title}}

Question: {{.Query}}
{{range .Sections}}
[{{.Team}}]
{{if .Analysis}}{{.Analysis}}
{{end}}{{range .Points}}* {{.}}
{{end}}{{range .Items}}* {{.Title}}: {{.Summary}}
{{end}}{{if .Summary}}{{.Summary}}
{{end}}{{end}}{{if .Missing}}
Not available: {{join .Missing ", "}}.
{{end}}`)),
}

var docFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
}

type docItem struct {
	Title, Summary, Source string
}

type docSection struct {
	Team     string
	Analysis string
	Summary  string
	Points   []string
	Items    []docItem
}

type docView struct {
	Title    string
	Query    string
	Sections []docSection
	Missing  []string
}

// DocumentTeam renders upstream output into a report. It makes no model
// calls.
type DocumentTeam struct {
	base
}

// NewDocumentTeam creates a document team.
func NewDocumentTeam(opts ...Option) *DocumentTeam {
	return &DocumentTeam{base: newBase(DocumentName, opts)}
}

// Execute renders the document. It works with partial upstream data and
// lists missing teams in a gaps section.
func (t *DocumentTeam) Execute(ctx context.Context, st models.TeamState) (models.ResultEnvelope, error) {
	if err := ctx.Err(); err != nil {
		return st.Fail(err, t.now()), err
	}

	params, ok := st.Params.(models.DocumentParams)
	if !ok {
		params = models.DocumentParams{}
	}
	if params.Title == "" {
		params.Title = "Report"
	}
	if params.Format == "" {
		params.Format = FormatMarkdown
	}
	tmpl, ok := documentTemplates[params.Format]
	if !ok {
		err := fmt.Errorf("unsupported document format %q", params.Format)
		return st.Fail(err, t.now()), err
	}

	view := buildView(params.Title, st.Query, st.Upstream)
	var sb strings.Builder
	if err := tmpl.Execute(&sb, view); err != nil {
		err = fmt.Errorf("render document: %w", err)
		return st.Fail(err, t.now()), err
	}

	return st.Succeed(map[string]any{
		"document": sb.String(),
		"format":   params.Format,
		"title":    params.Title,
	}, t.now()), nil
}

func buildView(title, query string, upstream map[string]models.ResultEnvelope) docView {
	view := docView{Title: title, Query: query}
	names := make([]string, 0, len(upstream))
	for name := range upstream {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		env := upstream[name]
		if !env.OK() {
			view.Missing = append(view.Missing, name)
			continue
		}
		sec := docSection{Team: name}
		sec.Analysis, _ = env.Data["analysis"].(string)
		if sec.Analysis == "" {
			sec.Summary, _ = env.Data["summary"].(string)
		}
		if points, ok := env.Data["key_points"].([]any); ok {
			for _, p := range points {
				sec.Points = append(sec.Points, fmt.Sprint(p))
			}
		}
		if items, ok := env.Data["items"].([]any); ok {
			for _, raw := range items {
				m, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				sec.Items = append(sec.Items, docItem{
					Title:   str(m["title"]),
					Summary: str(m["summary"]),
					Source:  str(m["source"]),
				})
			}
		}
		view.Sections = append(view.Sections, sec)
	}
	return view
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
