package planner

import (
	"strings"
	"unicode"

	"github.com/ShayCichocki/relay/pkg/models"
)

// IntentKeywords drives the fallback classifier used when the gateway
// cannot classify a query.
type IntentKeywords struct {
	// Report keywords ask for a written deliverable.
	Report []string
	// Comparison keywords weigh two or more subjects.
	Comparison []string
	// Analysis keywords ask for reasoning over facts.
	Analysis []string
	// Search keywords ask for facts. Search is also the default.
	Search []string
}

// DefaultIntentKeywords is checked in field order: report, comparison,
// analysis, search.
var DefaultIntentKeywords = IntentKeywords{
	Report: []string{
		"report",
		"write up",
		"write-up",
		"briefing",
		"memo",
		"whitepaper",
		"draft a",
	},
	Comparison: []string{
		"compare",
		"comparison",
		"versus",
		" vs ",
		" vs.",
		"difference between",
		"better than",
		"pros and cons",
	},
	Analysis: []string{
		"analyze",
		"analyse",
		"analysis",
		"why",
		"impact",
		"trend",
		"evaluate",
		"assess",
		"explain",
		"implication",
	},
	Search: []string{
		"find",
		"search",
		"list",
		"what",
		"who",
		"where",
		"when",
		"show",
		"look up",
		"latest",
	},
}

// Fallback confidences. A query with no keyword match still gets a
// search plan with the lowest confidence.
const (
	confidenceReport     = 0.75
	confidenceComparison = 0.80
	confidenceAnalysis   = 0.70
	confidenceSearch     = 0.60
	confidenceDefault    = 0.40
)

// ClassifyKeywords classifies a query by keyword matching. It never fails.
func ClassifyKeywords(query string) models.Intent {
	lower := " " + strings.ToLower(query) + " "

	groups := []struct {
		keywords   []string
		intent     models.IntentType
		confidence float64
	}{
		{DefaultIntentKeywords.Report, models.IntentReport, confidenceReport},
		{DefaultIntentKeywords.Comparison, models.IntentComparison, confidenceComparison},
		{DefaultIntentKeywords.Analysis, models.IntentAnalysis, confidenceAnalysis},
		{DefaultIntentKeywords.Search, models.IntentSearch, confidenceSearch},
	}

	for _, g := range groups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return models.Intent{
					Type:         g.intent,
					Confidence:   g.confidence,
					Keywords:     ExtractKeywords(query),
					Reasoning:    "matched keyword " + strings.TrimSpace(kw),
					UsedFallback: true,
				}
			}
		}
	}

	return models.Intent{
		Type:         models.IntentSearch,
		Confidence:   confidenceDefault,
		Keywords:     ExtractKeywords(query),
		Reasoning:    "no keyword matched, defaulting to search",
		UsedFallback: true,
	}
}

const maxKeywords = 8

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"what": true, "which": true, "who": true, "how": true, "why": true,
	"when": true, "where": true, "with": true, "from": true, "that": true,
	"this": true, "about": true, "into": true, "between": true, "does": true,
	"compare": true, "find": true, "show": true, "list": true, "please": true,
	"can": true, "you": true, "our": true, "their": true, "than": true,
}

// ExtractKeywords returns up to eight distinct lower-case content words.
func ExtractKeywords(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len(w) < 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}
