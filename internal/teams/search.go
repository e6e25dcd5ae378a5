package teams

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/relay/internal/api"
	"github.com/ShayCichocki/relay/pkg/models"
)

// defaultSource is used when a search step names no sources.
const defaultSource = "general"

// maxSourceFanout bounds concurrent gateway calls of one search.
const maxSourceFanout = 3

// SearchItem is one finding.
type SearchItem struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

type searchResponse struct {
	Items []SearchItem `json:"items"`
}

// SearchTeam collects findings for a query, one gateway call per source.
type SearchTeam struct {
	base
	gateway JSONCompleter
}

// NewSearchTeam creates a search team backed by the gateway.
func NewSearchTeam(gw JSONCompleter, opts ...Option) *SearchTeam {
	return &SearchTeam{base: newBase(SearchName, opts), gateway: gw}
}

// Execute queries every source concurrently. The step succeeds when at
// least one source answered; sources that failed are listed in the
// envelope data.
func (t *SearchTeam) Execute(ctx context.Context, st models.TeamState) (models.ResultEnvelope, error) {
	params, ok := st.Params.(models.SearchParams)
	if !ok {
		params = models.SearchParams{Limit: models.DefaultSearchLimit}
	}
	if params.Limit <= 0 {
		params.Limit = models.DefaultSearchLimit
	}
	sources := params.Sources
	if len(sources) == 0 {
		sources = []string{defaultSource}
	}

	found := make([][]SearchItem, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxSourceFanout)
	for i, source := range sources {
		g.Go(func() error {
			vars := map[string]any{
				"query":    st.Query,
				"keywords": params.Keywords,
				"limit":    params.Limit,
			}
			if source != defaultSource {
				vars["sources"] = []string{source}
			}
			var resp searchResponse
			if err := t.gateway.CompleteJSON(gctx, api.PromptSearchTeam, vars, &resp); err != nil {
				errs[i] = fmt.Errorf("source %s: %w", source, err)
				return nil
			}
			for j := range resp.Items {
				if resp.Items[j].Source == "" {
					resp.Items[j].Source = source
				}
			}
			found[i] = resp.Items
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	counts := make(map[string]any, len(sources))
	var items []any
	for i, source := range sources {
		if errs[i] != nil {
			failed = append(failed, source)
			t.logger.Warn("search source failed", zap.String("source", source), zap.Error(errs[i]))
			continue
		}
		counts[source] = float64(len(found[i]))
		list := make([]any, 0, len(found[i]))
		for _, item := range found[i] {
			list = append(list, itemMap(item))
		}
		st.AddResult(source, list)
		items = append(items, list...)
	}

	if len(failed) == len(sources) {
		return st.Fail(errors.Join(errs...), t.now()), fmt.Errorf("search failed for every source: %w", errors.Join(errs...))
	}
	if len(items) > params.Limit {
		items = items[:params.Limit]
	}
	if items == nil {
		items = []any{}
	}

	data := map[string]any{
		"items":     items,
		"sources":   counts,
		"summary":   searchSummary(len(items), counts),
		"by_source": st.Results,
	}
	if len(failed) > 0 {
		sort.Strings(failed)
		failedAny := make([]any, len(failed))
		for i, s := range failed {
			failedAny[i] = s
		}
		data["failed_sources"] = failedAny
	}
	t.logger.Debug("search finished", zap.Int("items", len(items)), zap.Strings("failed_sources", failed))
	return st.Succeed(data, t.now()), nil
}

// itemMap converts an item to the shape it has after a JSON round trip.
func itemMap(it SearchItem) map[string]any {
	return map[string]any{
		"title":   it.Title,
		"summary": it.Summary,
		"source":  it.Source,
	}
}

func searchSummary(n int, counts map[string]any) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%d results from %s", n, strings.Join(names, ", "))
}
