package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/turinglab/turinglab/internal/search"
)

// WebSearch answers queries through the configured search manager. With
// no provider configured it returns a successful stub that says so.
type WebSearch struct {
	mgr *search.Manager
}

// NewWebSearch creates the web_search tool. mgr may be nil.
func NewWebSearch(mgr *search.Manager) *WebSearch {
	return &WebSearch{mgr: mgr}
}

type webSearchParams struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

func (w *WebSearch) Descriptor() Descriptor {
	return Descriptor{
		Name:        "web_search",
		Description: "Search for information on the web. Returns relevant search results.",
		Parameters: map[string]string{
			"query": "string - The search query",
		},
	}
}

func (w *WebSearch) Execute(ctx context.Context, params map[string]any) *Result {
	var p webSearchParams
	if err := decodeParams(params, &p); err != nil {
		return invalidParams(err)
	}
	query := strings.TrimSpace(p.Query)
	if query == "" {
		return Failure("Missing query parameter", "Please provide a search query.")
	}

	if !w.mgr.Configured() {
		return Success(
			fmt.Sprintf(`I would search for "%s", but web search integration is not yet configured. `+
				`To enable this, set search.provider to searxng or brave in the configuration file.`, query),
			map[string]any{
				"query": query,
				"note":  "Web search is currently simulated. Configure a search provider for real results.",
			})
	}

	results, err := w.mgr.Search(ctx, query, search.Options{Count: p.Count})
	if err != nil {
		return Failure(err.Error(), fmt.Sprintf(`Search for "%s" failed: %s`, query, err))
	}
	return Success(search.FormatResults(results), map[string]any{
		"query":    query,
		"provider": w.mgr.Primary(),
		"results":  results,
	})
}
